package database

import (
	"testing"

	modelspkg "penpoint/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPersistentModels_IncludesLikeTables(t *testing.T) {
	var postLikes, commentLikes bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *modelspkg.PostLike:
			postLikes = true
		case *modelspkg.CommentLike:
			commentLikes = true
		}
	}
	require.True(t, postLikes, "PersistentModels should include PostLike")
	require.True(t, commentLikes, "PersistentModels should include CommentLike")
}
