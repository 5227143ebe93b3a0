package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/auth"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/db"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/utils"
)

// IUserService is the user directory consulted by the booking engine and the auth endpoints.
type IUserService interface {
	Register(ctx context.Context, username, email, password string, role models.Role) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (string, *models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	SetApprovalStatus(ctx context.Context, userID utils.SixID, status models.ApprovalStatus) (*models.User, error)
	ListByApprovalStatus(ctx context.Context, status models.ApprovalStatus) ([]models.User, error)
}

type userService struct {
	db     *mongo.Database
	cfg    *config.Config
	logger *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(database *mongo.Database, cfg *config.Config, log *zap.Logger) IUserService {
	return &userService{db: database, cfg: cfg, logger: log.Named("users")}
}

// Register creates a user. Renters start pending admin approval; customers are approved immediately.
func (s *userService) Register(ctx context.Context, username, email, password string, role models.Role) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.InvalidInput("username is required")
	}
	if !role.IsValid() {
		return nil, apperr.InvalidInput("invalid role %q", role)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return nil, apperr.InvalidInput("%s", err.Error())
		}
		return nil, err
	}

	approval := models.ApprovalApproved
	if role == models.RoleRenter {
		approval = models.ApprovalPending
	}

	now := time.Now().UTC()
	user, err := db.InsertOne(ctx, s.db.Collection(db.UsersCollection), &models.User{
		Username:       username,
		Email:          strings.TrimSpace(email),
		PasswordHash:   hash,
		Role:           role,
		ApprovalStatus: approval,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, apperr.Conflict("username %s is taken", username)
		}
		return nil, fmt.Errorf("failed to create user %s: %w", username, err)
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	return user, nil
}

// Authenticate checks the password and returns a signed JWT with the user.
func (s *userService) Authenticate(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", nil, apperr.Forbidden("invalid username or password")
		}
		return "", nil, err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, apperr.Forbidden("invalid username or password")
	}

	token, err := auth.GenerateJWT(user, s.cfg.JwtSecret, s.cfg.JwtTTL)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": userID}, userID.String())
}

func (s *userService) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"username": strings.TrimSpace(username)}, username)
}

func (s *userService) findOne(ctx context.Context, filter bson.M, ref string) (*models.User, error) {
	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("user %s not found", ref)
		}
		return nil, fmt.Errorf("error finding user %s: %w", ref, err)
	}
	return &user, nil
}

// SetApprovalStatus records an admin decision on a renter account.
func (s *userService) SetApprovalStatus(ctx context.Context, userID utils.SixID, status models.ApprovalStatus) (*models.User, error) {
	if !status.IsValid() {
		return nil, apperr.InvalidInput("invalid approval status %q", status)
	}

	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"approval_status": status, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("user %s not found", userID)
		}
		return nil, fmt.Errorf("failed to set approval status for user %s: %w", userID, err)
	}

	s.logger.Info("Approval status changed", zap.String("user_id", userID.String()), zap.String("status", string(status)))
	return &user, nil
}

// ListByApprovalStatus lists renters with the given approval status, oldest first.
func (s *userService) ListByApprovalStatus(ctx context.Context, status models.ApprovalStatus) ([]models.User, error) {
	if !status.IsValid() {
		return nil, apperr.InvalidInput("invalid approval status %q", status)
	}

	cursor, err := s.db.Collection(db.UsersCollection).Find(ctx,
		bson.M{"role": models.RoleRenter, "approval_status": status},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer cursor.Close(ctx)

	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}
