package database

import "penpoint/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
// Like tables come after their parents so foreign keys resolve.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Post{},
		&models.PostLike{},
		&models.Comment{},
		&models.CommentLike{},
	}
}
