package listening

import (
	"sort"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/middleware/redis"
	"github.com/curtisnewbie/evbus/util/errs"
)

const (
	StatusCreated   = "Created"
	StatusStarted   = "Started"
	StatusFailed    = "Failed"
	StatusCompleted = "Completed"
)

// Status of an episode being encoded, kept in redis until the episode is persisted.
type EncodingEpisodeInfo struct {
	Id               string
	Name             MultilingualString
	AlbumId          string
	DurationInSecond float64
	Subtitle         string
	SubtitleType     string
	Status           string
}

// Redis backed store of EncodingEpisodeInfo.
//
// Each info is stored as 'Listening.EncodingEpisode.{episodeId}', ids of the episodes being encoded
// in an album are kept in set 'Listening.EncodingEpisodeIdsOfAlbum.{albumId}'.
type EncodingEpisodeStore struct {
	cache redis.RCache[EncodingEpisodeInfo]
}

func NewEncodingEpisodeStore() *EncodingEpisodeStore {
	return &EncodingEpisodeStore{
		cache: redis.NewRCache[EncodingEpisodeInfo]("Listening.EncodingEpisode", redis.RCacheConfig{}),
	}
}

func albumSetKey(albumId string) string {
	return "Listening.EncodingEpisodeIdsOfAlbum." + albumId
}

func (s *EncodingEpisodeStore) Add(rail core.Rail, info EncodingEpisodeInfo) error {
	if err := s.cache.Put(rail, info.Id, info); err != nil {
		return errs.WrapErrf(err, "failed to save encoding episode '%v'", info.Id)
	}
	err := redis.GetRedis().SAdd(rail.Context(), albumSetKey(info.AlbumId), info.Id).Err()
	return errs.WrapErrf(err, "failed to add encoding episode '%v' to album '%v'", info.Id, info.AlbumId)
}

func (s *EncodingEpisodeStore) Get(rail core.Rail, episodeId string) (EncodingEpisodeInfo, bool, error) {
	return s.cache.Get(rail, episodeId)
}

// Update status of the episode, false is returned if the episode is unknown.
func (s *EncodingEpisodeStore) UpdateStatus(rail core.Rail, episodeId string, status string) (bool, error) {
	return s.cache.Update(rail, episodeId, func(t EncodingEpisodeInfo) (EncodingEpisodeInfo, bool) {
		t.Status = status
		return t, true
	})
}

func (s *EncodingEpisodeStore) Remove(rail core.Rail, episodeId string, albumId string) error {
	if err := s.cache.Del(rail, episodeId); err != nil {
		return err
	}
	return errs.WrapErr(redis.GetRedis().SRem(rail.Context(), albumSetKey(albumId), episodeId).Err())
}

// Sorted ids of episodes being encoded in the album.
func (s *EncodingEpisodeStore) EpisodeIdsOfAlbum(rail core.Rail, albumId string) ([]string, error) {
	ids, err := redis.GetRedis().SMembers(rail.Context(), albumSetKey(albumId)).Result()
	if err != nil {
		return nil, errs.WrapErrf(err, "failed to list encoding episodes of album '%v'", albumId)
	}
	sort.Strings(ids)
	return ids, nil
}
