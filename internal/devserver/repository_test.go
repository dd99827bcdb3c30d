package devserver

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"loopline/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestUserRepository_GetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	query := regexp.QuoteMeta(`SELECT * FROM "users" WHERE "users"."id" = $1 ORDER BY "users"."id" LIMIT $2`)

	tests := []struct {
		name         string
		userID       uint
		mockBehavior func()
		wantUsername string
		wantNotFound bool
		wantErr      bool
	}{
		{
			name:   "Success",
			userID: 1,
			mockBehavior: func() {
				rows := sqlmock.NewRows([]string{"id", "username", "email"}).
					AddRow(1, "alice", "alice@example.com")
				mock.ExpectQuery(query).WithArgs(1, 1).WillReturnRows(rows)
			},
			wantUsername: "alice",
		},
		{
			name:   "Not Found",
			userID: 99,
			mockBehavior: func() {
				mock.ExpectQuery(query).WithArgs(99, 1).WillReturnError(gorm.ErrRecordNotFound)
			},
			wantErr:      true,
			wantNotFound: true,
		},
		{
			name:   "Database Error",
			userID: 2,
			mockBehavior: func() {
				mock.ExpectQuery(query).WithArgs(2, 1).WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()
			user, err := repo.GetByID(ctx, tt.userID)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantNotFound, models.IsNotFound(err))
			} else if assert.NoError(t, err) {
				assert.Equal(t, tt.wantUsername, user.Username)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_GetByUsername(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"id", "username"}).AddRow(7, "bob")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE username = $1 ORDER BY "users"."id" LIMIT $2`)).
		WithArgs("bob", 1).
		WillReturnRows(rows)

	user, err := repo.GetByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, uint(7), user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Follow(t *testing.T) {
	insert := regexp.QuoteMeta(`INSERT INTO "follows"`)

	t.Run("New edge", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewUserRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(insert).
			WithArgs(1, 2, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
		mock.ExpectCommit()

		created, err := repo.Follow(context.Background(), 1, 2)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Existing edge", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewUserRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(insert).
			WithArgs(1, 2, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		created, err := repo.Follow(context.Background(), 1, 2)
		require.NoError(t, err)
		assert.False(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_Unfollow(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "follows" WHERE follower_id = $1 AND following_id = $2`)).
		WithArgs(1, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := repo.Unfollow(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ListByIDsEmpty(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	users, err := repo.ListByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepository_GetBySlugNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewGroupRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "groups" WHERE slug = $1 ORDER BY "groups"."id" LIMIT $2`)).
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetBySlug(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepository_CreateAddsCreator(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewGroupRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "groups"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "memberships"`)).
		WithArgs(5, 3, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	group := &Group{Name: "Go", Slug: "go", CreatorID: 3, PrivacyLevel: "public"}
	require.NoError(t, repo.Create(context.Background(), group))
	assert.Equal(t, uint(5), group.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepository_CreateRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewGroupRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "groups"`)).
		WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &Group{Name: "Go", Slug: "go", CreatorID: 3})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepository_Members(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewGroupRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "memberships" WHERE group_id = $1`)).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "user_id" FROM "memberships" WHERE group_id = $1 ORDER BY id LIMIT $2`)).
		WithArgs(4, 10).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(3).AddRow(8))

	ids, total, err := repo.Members(context.Background(), 4, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []uint{3, 8}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepository_PendingRequestNone(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewGroupRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "join_requests" WHERE group_id = $1 AND user_id = $2 AND status = $3`)).
		WithArgs(1, 2, RequestPending, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req, err := repo.PendingRequest(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepository_DenyRequest(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewGroupRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "join_requests" WHERE "join_requests"."id" = $1`)).
		WithArgs(9).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DenyRequest(context.Background(), &JoinRequest{ID: 9}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueIDs(t *testing.T) {
	assert.Equal(t, []uint{3, 1, 2}, uniqueIDs([]uint{3, 1, 3, 2, 1}))
	assert.Empty(t, uniqueIDs(nil))
}
