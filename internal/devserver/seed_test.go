package devserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSeed(t *testing.T) {
	db, err := Connect(DriverSQLite, ":memory:", nil)
	require.NoError(t, err)

	res, err := Seed(context.Background(), db, SeedOptions{Users: 6, PostsPerUser: 2, Groups: 3, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Users)
	assert.Equal(t, 18, res.Follows)
	assert.Equal(t, 6*2+3*3, res.Posts)
	assert.Equal(t, 3, res.Groups)

	var users []User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 6)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users[0].PasswordHash), []byte(SeedPassword)))

	var private int64
	require.NoError(t, db.Model(&Group{}).Where("privacy_level = ?", "private").Count(&private).Error)
	assert.Equal(t, int64(1), private)

	var memberships int64
	require.NoError(t, db.Model(&Membership{}).Count(&memberships).Error)
	assert.Equal(t, int64(9), memberships)
}

func TestSeedNoUsers(t *testing.T) {
	db, err := Connect(DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	res, err := Seed(context.Background(), db, SeedOptions{})
	require.NoError(t, err)
	assert.Zero(t, res)
}
