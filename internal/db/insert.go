package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"rentmarket/api/internal/models"
)

// InsertOne gives doc a fresh ID and inserts it, drawing a new ID whenever the
// previous one collides with an existing _id.
func InsertOne[T models.IBase](ctx context.Context, collection *mongo.Collection, doc T) (T, error) {
	err := Try(func() error {
		doc.GenID()
		_, err := collection.InsertOne(ctx, doc)
		return err
	})
	return doc, err
}
