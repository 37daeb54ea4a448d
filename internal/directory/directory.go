package directory

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"livecast/pkg/log"
)

var ErrBroadcastNotFound = errors.New("broadcast not found")

// Broadcast statuses.
const (
	StatusScheduled = "scheduled"
	StatusLive      = "live"
	StatusEnded     = "ended"
)

// Broadcast is the persisted directory entry for a room.
type Broadcast struct {
	ID         uint   `gorm:"primaryKey"`
	RoomID     string `gorm:"uniqueIndex;size:64"`
	OwnerID    string `gorm:"index;size:64"`
	Title      string `gorm:"size:255"`
	Status     string `gorm:"index;size:16"`
	MaxViewers int
	StartedAt  *time.Time
	EndedAt    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Directory defines the persisted broadcast catalog.
type Directory interface {
	Create(ctx context.Context, b *Broadcast) error
	GetByRoomID(ctx context.Context, roomID string) (*Broadcast, error)
	FindLive(ctx context.Context) ([]Broadcast, error)
	SetLive(ctx context.Context, roomID string) error
	SetEnded(ctx context.Context, roomID string) error
}

// GormDirectory implements Directory using GORM.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) (*GormDirectory, error) {
	if err := db.AutoMigrate(&Broadcast{}); err != nil {
		return nil, err
	}
	return &GormDirectory{db: db}, nil
}

// Create registers a broadcast entry for a room.
func (d *GormDirectory) Create(ctx context.Context, b *Broadcast) error {
	l := log.Ctx(ctx)

	if b.Status == "" {
		b.Status = StatusScheduled
	}
	if err := d.db.WithContext(ctx).Create(b).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, b.RoomID).Msg("failed to create broadcast entry")
		return err
	}
	l.Debug().Str(log.FieldRoomID, b.RoomID).Msg("broadcast entry created")
	return nil
}

// GetByRoomID fetches the directory entry for a room.
func (d *GormDirectory) GetByRoomID(ctx context.Context, roomID string) (*Broadcast, error) {
	var b Broadcast
	err := d.db.WithContext(ctx).First(&b, "room_id = ?", roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBroadcastNotFound
		}
		log.Ctx(ctx).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to get broadcast entry")
		return nil, err
	}
	return &b, nil
}

// FindLive lists the broadcasts currently marked live.
func (d *GormDirectory) FindLive(ctx context.Context) ([]Broadcast, error) {
	var out []Broadcast
	err := d.db.WithContext(ctx).
		Where("status = ?", StatusLive).
		Order("started_at DESC").
		Find(&out).Error
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list live broadcasts")
		return nil, err
	}
	return out, nil
}

// SetLive marks a room's broadcast live and stamps its start time.
func (d *GormDirectory) SetLive(ctx context.Context, roomID string) error {
	now := time.Now()
	result := d.db.WithContext(ctx).Model(&Broadcast{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{
			"status":     StatusLive,
			"started_at": &now,
			"ended_at":   nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBroadcastNotFound
	}
	return nil
}

// SetEnded marks a room's broadcast ended and stamps its end time.
func (d *GormDirectory) SetEnded(ctx context.Context, roomID string) error {
	now := time.Now()
	result := d.db.WithContext(ctx).Model(&Broadcast{}).
		Where("room_id = ? AND status = ?", roomID, StatusLive).
		Updates(map[string]interface{}{
			"status":   StatusEnded,
			"ended_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBroadcastNotFound
	}
	return nil
}
