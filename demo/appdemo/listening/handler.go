package listening

import (
	"net/url"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/encoding/json"
	"github.com/curtisnewbie/evbus/middleware/rabbit"
	"github.com/curtisnewbie/evbus/middleware/redis"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/curtisnewbie/evbus/util/strutil"
	"gorm.io/gorm"
)

const (
	EventEncodingStarted    = "MediaEncoding.Started"
	EventEncodingFailed     = "MediaEncoding.Failed"
	EventEncodingDuplicated = "MediaEncoding.Duplicated"
	EventEncodingCompleted  = "MediaEncoding.Completed"

	HandlerId    = "listening.media-encoding-status"
	SourceStream = "Listening"
)

var MediaEncodingEvents = []string{
	EventEncodingStarted,
	EventEncodingFailed,
	EventEncodingDuplicated,
	EventEncodingCompleted,
}

// Handles status changes of media encoding, one instance per delivery.
type mediaEncodingHandler struct {
	store *EncodingEpisodeStore
	db    *gorm.DB
}

func newHandlerFactory(store *EncodingEpisodeStore, db *gorm.DB) rabbit.HandlerFactory {
	return func(rail core.Rail) (rabbit.IntegrationEventHandler, error) {
		h := &mediaEncodingHandler{
			store: store,
			db:    db.Session(&gorm.Session{NewDB: true, Context: rail.Context()}),
		}
		return rabbit.DocumentHandler(h.handle), nil
	}
}

// Binding of the media encoding status handler to all MediaEncoding events.
func Binding(store *EncodingEpisodeStore, db *gorm.DB) rabbit.HandlerBinding {
	return rabbit.HandlerBinding{
		Id:         HandlerId,
		EventNames: MediaEncodingEvents,
		New:        newHandlerFactory(store, db),
	}
}

// Migrate tables and subscribe the media encoding status handler.
func Register(rail core.Rail, bus *rabbit.EventBus, store *EncodingEpisodeStore, db *gorm.DB) error {
	if err := Migrate(db); err != nil {
		return err
	}
	return bus.SubscribeAll(rail, Binding(store, db))
}

func (h *mediaEncodingHandler) handle(rail core.Rail, eventName string, doc json.Document) error {
	if src := doc.Get("SourceStream").Str(); src != SourceStream {
		rail.Debugf("Ignored event '%v' of source stream '%v'", eventName, src)
		return nil
	}
	id := doc.Get("Id").Str()
	if strutil.IsBlankStr(id) {
		return errs.NewErrf("event '%v' doesn't carry episode id", eventName)
	}

	switch eventName {
	case EventEncodingStarted:
		return h.updateStatus(rail, id, StatusStarted)
	case EventEncodingFailed:
		return h.updateStatus(rail, id, StatusFailed)
	case EventEncodingDuplicated:
		return h.updateStatus(rail, id, StatusCompleted)
	case EventEncodingCompleted:
		if err := h.updateStatus(rail, id, StatusCompleted); err != nil {
			return err
		}
		return h.saveEpisode(rail, id, doc.Get("OutputUrl").Str())
	}
	return errs.NewErrf("unsupported event '%v'", eventName)
}

func (h *mediaEncodingHandler) updateStatus(rail core.Rail, episodeId string, status string) error {
	ok, err := h.store.UpdateStatus(rail, episodeId, status)
	if err != nil {
		return errs.WrapErrf(err, "failed to update status of encoding episode '%v'", episodeId)
	}
	if !ok {
		rail.Warnf("Encoding episode '%v' not found, status '%v' not saved", episodeId, status)
		return nil
	}
	rail.Infof("Encoding episode '%v' status changed to '%v'", episodeId, status)
	return nil
}

func (h *mediaEncodingHandler) saveEpisode(rail core.Rail, episodeId string, outputUrl string) error {
	u, err := url.Parse(outputUrl)
	if err != nil || !u.IsAbs() {
		return errs.NewErrf("invalid output url '%v' of episode '%v'", outputUrl, episodeId)
	}

	info, ok, err := h.store.Get(rail, episodeId)
	if err != nil {
		return err
	}
	if !ok {
		rail.Warnf("Encoding episode '%v' not found, episode not saved", episodeId)
		return nil
	}

	// sequence numbers are allocated per album
	return redis.RLockExec(rail, "listening:album:seq:"+info.AlbumId, func() error {
		return h.db.Transaction(func(tx *gorm.DB) error {
			if _, exists, err := findEpisode(tx, episodeId); err != nil || exists {
				if exists {
					rail.Infof("Episode '%v' already saved, skipped", episodeId)
				}
				return err
			}
			maxSeq, err := maxSeqOfEpisodes(tx, info.AlbumId)
			if err != nil {
				return err
			}
			ep := Episode{
				Id:               episodeId,
				AlbumId:          info.AlbumId,
				SequenceNumber:   maxSeq + 1,
				NameChinese:      info.Name.Chinese,
				NameEnglish:      info.Name.English,
				AudioUrl:         u.String(),
				DurationInSecond: info.DurationInSecond,
				Subtitle:         info.Subtitle,
				SubtitleType:     info.SubtitleType,
			}
			if err := tx.Create(&ep).Error; err != nil {
				return errs.WrapErrf(err, "failed to save episode '%v'", episodeId)
			}
			rail.Infof("Saved episode '%v' of album '%v', seq: %v", episodeId, info.AlbumId, ep.SequenceNumber)
			return nil
		})
	})
}
