package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"club_chat/internal/domain"
)

// Строки таблиц для gorm. Схема совпадает с PostgreSQL-миграцией.

type chatRoomRow struct {
	ID          uuid.UUID `gorm:"column:id;type:text;primaryKey"`
	Kind        string    `gorm:"column:kind;size:15;not null;index:idx_chat_room_kind_created,priority:1"`
	Name        *string   `gorm:"column:name;size:255"`
	Description *string   `gorm:"column:description"`
	CreatedBy   *int64    `gorm:"column:created_by"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index:idx_chat_room_kind_created,priority:2"`
}

func (chatRoomRow) TableName() string { return "chat_room" }

func (r chatRoomRow) toDomain() *domain.ChatRoom {
	return &domain.ChatRoom{
		ID:          r.ID,
		Kind:        domain.ChatKind(r.Kind),
		Name:        r.Name,
		Description: r.Description,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type participantRow struct {
	RoomID     uuid.UUID  `gorm:"column:room_id;type:text;primaryKey"`
	UserID     int64      `gorm:"column:user_id;primaryKey;index"`
	Role       string     `gorm:"column:role;size:10;not null;default:member"`
	JoinedAt   time.Time  `gorm:"column:joined_at;not null"`
	LastReadAt *time.Time `gorm:"column:last_read_at"`
}

func (participantRow) TableName() string { return "participant" }

func (r participantRow) toDomain() *domain.Participant {
	p := &domain.Participant{
		RoomID:   r.RoomID,
		UserID:   r.UserID,
		Role:     r.Role,
		JoinedAt: r.JoinedAt.UTC(),
	}
	if r.LastReadAt != nil {
		t := r.LastReadAt.UTC()
		p.LastReadAt = &t
	}
	return p
}

type messageRow struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RoomID      uuid.UUID `gorm:"column:room_id;type:text;not null;index"`
	SenderID    int64     `gorm:"column:sender_id;not null"`
	Body        string    `gorm:"column:body;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index"`
	ClientMsgID uuid.UUID `gorm:"column:client_msg_id;type:text;not null;index"`
}

func (messageRow) TableName() string { return "message" }

func (r messageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:          r.ID,
		RoomID:      r.RoomID,
		SenderID:    r.SenderID,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt.UTC(),
		ClientMsgID: r.ClientMsgID,
	}
}

type userRow struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	Username string `gorm:"column:username;size:150;not null;uniqueIndex"`
	IsActive bool   `gorm:"column:is_active;not null;default:true"`
}

func (userRow) TableName() string { return "users" }

// OpenSQLite открывает базу SQLite через gorm и создает таблицы.
// Все времена пишутся в UTC: SQLite сравнивает их как строки.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Одно соединение: in-memory база живет в рамках соединения, а SQLite все равно сериализует запись
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRow{}, &chatRoomRow{}, &participantRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	return db, nil
}

// SeedUser добавляет пользователя; нужен для локальной разработки и тестов
func SeedUser(db *gorm.DB, user *domain.User) error {
	row := userRow{ID: user.ID, Username: user.Username, IsActive: user.IsActive}
	return db.Create(&row).Error
}
