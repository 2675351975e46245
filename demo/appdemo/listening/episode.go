package listening

import (
	"time"

	"github.com/curtisnewbie/evbus/util/errs"
	"gorm.io/gorm"
)

type MultilingualString struct {
	Chinese string
	English string
}

// Episode of an album, inserted once the audio encoding completes.
type Episode struct {
	Id               string `gorm:"primaryKey"`
	AlbumId          string `gorm:"index"`
	SequenceNumber   int
	NameChinese      string
	NameEnglish      string
	AudioUrl         string
	DurationInSecond float64
	Subtitle         string
	SubtitleType     string
	CreatedAt        time.Time
}

func (Episode) TableName() string {
	return "episode"
}

func Migrate(db *gorm.DB) error {
	return errs.WrapErrf(db.AutoMigrate(&Episode{}), "failed to migrate episode table")
}

func findEpisode(tx *gorm.DB, id string) (Episode, bool, error) {
	var eps []Episode
	if err := tx.Where("id = ?", id).Limit(1).Find(&eps).Error; err != nil {
		return Episode{}, false, errs.WrapErrf(err, "failed to find episode '%v'", id)
	}
	if len(eps) < 1 {
		return Episode{}, false, nil
	}
	return eps[0], true, nil
}

// Max sequence number of episodes in the album, 0 if the album is empty.
func maxSeqOfEpisodes(tx *gorm.DB, albumId string) (int, error) {
	var max int
	err := tx.Model(&Episode{}).
		Select("COALESCE(MAX(sequence_number), 0)").
		Where("album_id = ?", albumId).
		Scan(&max).Error
	if err != nil {
		return 0, errs.WrapErrf(err, "failed to query max sequence number of album '%v'", albumId)
	}
	return max, nil
}

func ListEpisodes(db *gorm.DB, albumId string) ([]Episode, error) {
	var eps []Episode
	if err := db.Where("album_id = ?", albumId).Order("sequence_number asc").Find(&eps).Error; err != nil {
		return nil, errs.WrapErrf(err, "failed to list episodes of album '%v'", albumId)
	}
	return eps, nil
}
