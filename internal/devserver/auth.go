package devserver

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"loopline/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer   = "loopline-devserver"
	tokenAudience = "loopline-client"
	tokenTTL      = 7 * 24 * time.Hour

	minPasswordLength = 8
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]{1,150}$`)

// Register handles POST /api/auth/registration/.
func (s *Server) Register(c *fiber.Ctx) error {
	var req models.Registration
	if err := c.BodyParser(&req); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body", nil))
	}
	req.Username = strings.TrimSpace(req.Username)

	fields := map[string][]string{}
	if req.Username == "" {
		fields["username"] = []string{"This field may not be blank."}
	} else if !usernamePattern.MatchString(req.Username) {
		fields["username"] = []string{"Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."}
	}
	if req.Password1 == "" {
		fields["password1"] = []string{"This field may not be blank."}
	} else if len(req.Password1) < minPasswordLength {
		fields["password1"] = []string{"This password is too short. It must contain at least 8 characters."}
	}
	if req.Password1 != req.Password2 {
		fields["non_field_errors"] = []string{"The two password fields didn't match."}
	}
	if len(fields) > 0 {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid input.", fields))
	}

	if _, err := s.users.GetByUsername(c.UserContext(), req.Username); err == nil {
		return RespondWithError(c, fiber.StatusBadRequest, fieldError("username", "A user with that username already exists."))
	} else if !models.IsNotFound(err) {
		return dbError(c, err)
	}

	user, err := s.createUser(c.UserContext(), req.Username, req.Email, req.Password1)
	if err != nil {
		return dbError(c, err)
	}
	user.FirstName, user.LastName = req.FirstName, req.LastName
	if err := s.users.Update(c.UserContext(), user); err != nil {
		return dbError(c, err)
	}

	token, err := s.generateToken(user.ID, user.Username)
	if err != nil {
		return RespondWithError(c, fiber.StatusInternalServerError, models.NewTransientError(fiber.StatusInternalServerError, err))
	}
	return c.Status(fiber.StatusCreated).JSON(models.TokenResponse{Key: token})
}

func (s *Server) createUser(ctx context.Context, username, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if email == "" {
		email = username + "@example.com"
	}
	user := &User{Username: username, Email: email, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login handles POST /api/auth/login/.
func (s *Server) Login(c *fiber.Ctx) error {
	var req models.Credentials
	if err := c.BodyParser(&req); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body", nil))
	}
	fields := map[string][]string{}
	if strings.TrimSpace(req.Username) == "" {
		fields["username"] = []string{"This field may not be blank."}
	}
	if req.Password == "" {
		fields["password"] = []string{"This field may not be blank."}
	}
	if len(fields) > 0 {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid input.", fields))
	}

	invalid := fieldError("non_field_errors", "Unable to log in with provided credentials.")
	user, err := s.users.GetByUsername(c.UserContext(), strings.TrimSpace(req.Username))
	if err != nil {
		if models.IsNotFound(err) {
			return RespondWithError(c, fiber.StatusBadRequest, invalid)
		}
		return dbError(c, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, invalid)
	}

	token, err := s.generateToken(user.ID, user.Username)
	if err != nil {
		return RespondWithError(c, fiber.StatusInternalServerError, models.NewTransientError(fiber.StatusInternalServerError, err))
	}
	return c.JSON(models.TokenResponse{Key: token})
}

// CurrentUser handles GET /api/auth/user/.
func (s *Server) CurrentUser(c *fiber.Ctx) error {
	user, err := s.users.GetByID(c.UserContext(), currentUserID(c))
	if err != nil {
		return dbError(c, err)
	}
	return c.JSON(userView(baseURL(c), *user, true))
}

// Logout handles POST /api/auth/logout/ by revoking the token's jti until
// the token would have expired anyway.
func (s *Server) Logout(c *fiber.Ctx) error {
	claims, _ := c.Locals("claims").(jwt.MapClaims)
	jti, _ := claims["jti"].(string)
	if jti != "" && s.redis != nil {
		ttl := tokenTTL
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			ttl = time.Until(exp.Time)
		}
		if ttl > 0 {
			if err := s.redis.Set(c.UserContext(), "blacklist:"+jti, "1", ttl).Err(); err != nil {
				return RespondWithError(c, fiber.StatusInternalServerError, models.NewTransientError(fiber.StatusInternalServerError, err))
			}
		}
	}
	return respondDetail(c, fiber.StatusOK, "Successfully logged out.")
}

func (s *Server) generateToken(userID uint, username string) (string, error) {
	if s.config.JWTSecret == "" {
		return "", errors.New("JWT secret not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      strconv.FormatUint(uint64(userID), 10),
		"username": username,
		"iss":      tokenIssuer,
		"aud":      tokenAudience,
		"exp":      now.Add(tokenTTL).Unix(),
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"jti":      uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// tokenFromRequest accepts "Token <t>" or "Bearer <t>", and ?token= for
// websocket upgrades, which cannot carry headers from the client.
func tokenFromRequest(c *fiber.Ctx) string {
	if scheme, token, ok := strings.Cut(c.Get(fiber.HeaderAuthorization), " "); ok {
		if strings.EqualFold(scheme, "Token") || strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if websocket.IsWebSocketUpgrade(c) {
		return c.Query("token")
	}
	return ""
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return RespondWithError(c, fiber.StatusUnauthorized, models.NewAuthError(msg))
}

// AuthRequired verifies the session token and stores the user id in locals.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			return unauthorized(c, msgAuthRequired)
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
			}
			return []byte(s.config.JWTSecret), nil
		}, jwt.WithIssuer(tokenIssuer), jwt.WithAudience(tokenAudience))
		if err != nil || !token.Valid {
			return unauthorized(c, msgInvalidToken)
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return unauthorized(c, msgInvalidToken)
		}
		sub, _ := claims["sub"].(string)
		userID, err := strconv.ParseUint(sub, 10, 64)
		if err != nil || userID == 0 {
			return unauthorized(c, msgInvalidToken)
		}

		if jti, _ := claims["jti"].(string); jti != "" && s.redis != nil {
			revoked, err := s.redis.Exists(c.UserContext(), "blacklist:"+jti).Result()
			if err == nil && revoked > 0 {
				return unauthorized(c, msgInvalidToken)
			}
		}

		// Tokens outlive deleted users in the harness cleanup.
		if _, err := s.users.GetByID(c.UserContext(), uint(userID)); err != nil {
			if models.IsNotFound(err) {
				return unauthorized(c, msgInvalidToken)
			}
			return dbError(c, err)
		}

		c.Locals("userID", uint(userID))
		c.Locals("claims", claims)
		c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, uint(userID)))
		return c.Next()
	}
}

func currentUserID(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}
