package service

import (
	"context"

	"github.com/fentz26/rwclient/internal/content"
	"github.com/fentz26/rwclient/internal/events"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/tags"
)

// --- Configuration ---

// retrieveConfiguration asks the server for the project configuration and
// falls back to the cached copy.
func (s *Service) retrieveConfiguration() {
	cfg := s.Configuration()
	a := s.factory.RetrieveConfiguration(cfg.DeviceID, cfg.ProjectID)
	s.Perform(context.Background(), a, true, s.configurationRetrieved)
}

func (s *Service) configurationRetrieved(body string, ok bool) {
	log := s.logger.WithField("operation", "get_config")

	if ok && body != "" {
		err := s.applyConfiguration([]byte(body), models.SourceFromServer)
		if err == nil {
			if err := s.prefs.SaveConfiguration([]byte(body)); err != nil {
				log.WithError(err).Warn("could not cache configuration")
			}
			s.bus.Publish(events.ConfigurationLoaded{Source: models.SourceFromServer})
			return
		}
		log.WithError(err).Warn("invalid configuration from server, trying cache")
	}

	cached, err := s.prefs.CachedConfiguration()
	if err != nil {
		log.WithError(err).Warn("could not read cached configuration")
	}
	if cached == nil {
		log.Info("could not retrieve configuration from server and no cached data available")
		s.bus.Publish(events.NoConfiguration{Reason: "no configuration from server or cache"})
		return
	}
	if err := s.applyConfiguration(cached, models.SourceFromCache); err != nil {
		log.WithError(err).Warn("invalid cached configuration")
		s.bus.Publish(events.NoConfiguration{Reason: err.Error()})
		return
	}
	s.bus.Publish(events.ConfigurationLoaded{Source: models.SourceFromCache})
}

func (s *Service) applyConfiguration(data []byte, source models.DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ApplyJSON(data, source)
}

// --- Content ---

// ensureContent downloads content files when the project has newer ones, and
// publishes ContentLoaded otherwise. It runs on the main loop.
func (s *Service) ensureContent() {
	cfg := s.Configuration()
	saved, err := s.prefs.ContentFilesInfo()
	if err != nil {
		s.logger.WithError(err).Warn("could not read content files info")
	}

	if !content.Required(saved, cfg.FilesURL, cfg.FilesVersion, s.opts.ContentDir, s.opts.AlwaysDownloadContent) {
		dir := ""
		if saved != nil && cfg.FilesURL != "" {
			dir = saved.Dir
		}
		s.mu.Lock()
		s.contentDir = dir
		s.mu.Unlock()
		s.bus.Publish(events.ContentLoaded{Dir: dir})
		return
	}

	info := models.ContentFilesInfo{URL: cfg.FilesURL, Version: cfg.FilesVersion, Dir: s.opts.ContentDir}
	s.pool.Go(func(ctx context.Context) (interface{}, error) {
		s.downloadContent(ctx, info)
		return nil, nil
	})
}

func (s *Service) downloadContent(ctx context.Context, info models.ContentFilesInfo) {
	log := s.logger.WithField("url", info.URL)
	log.Info("downloading content files")

	err := s.downloader.Download(ctx, info.URL, info.Dir, func(processed, total int64) {
		s.bus.Publish(events.ContentDownloading{BytesProcessed: processed, TotalBytes: total})
	})
	if err != nil {
		log.WithError(err).Warn("content download failed")
		s.bus.Publish(events.NoContent{Reason: err.Error()})
		return
	}

	if err := s.prefs.SaveContentFilesInfo(info); err != nil {
		log.WithError(err).Warn("could not save content files info")
	}
	s.mu.Lock()
	s.contentDir = info.Dir
	s.mu.Unlock()
	s.bus.Publish(events.ContentLoaded{Dir: info.Dir})
}

// --- Tags ---

// retrieveTags asks the server for the tag catalog and falls back to the
// cached copy.
func (s *Service) retrieveTags() {
	cfg := s.Configuration()
	a := s.factory.RetrieveTags(cfg.ProjectID)
	s.Perform(context.Background(), a, true, s.tagsRetrieved)
}

func (s *Service) tagsRetrieved(body string, ok bool) {
	log := s.logger.WithField("operation", "get_tags")

	if ok && body != "" {
		c, err := tags.Parse([]byte(body), models.SourceFromServer)
		if err == nil {
			if err := s.prefs.SaveTags([]byte(body)); err != nil {
				log.WithError(err).Warn("could not cache tags")
			}
			s.setCatalog(c)
			return
		}
		log.WithError(err).Warn("invalid tags from server, trying cache")
	}

	cached, err := s.prefs.CachedTags()
	if err != nil {
		log.WithError(err).Warn("could not read cached tags")
	}
	if cached == nil {
		log.Warn("could not retrieve tags from server and no cached data available")
		s.bus.Publish(events.NoTags{Reason: "no tags from server or cache"})
		return
	}
	c, err := tags.Parse(cached, models.SourceFromCache)
	if err != nil {
		log.WithError(err).Warn("invalid cached tags")
		s.bus.Publish(events.NoTags{Reason: err.Error()})
		return
	}
	s.setCatalog(c)
}

// setCatalog installs c and rebuilds both selection lists. Unless the project
// resets to defaults on startup, saved selections are restored.
func (s *Service) setCatalog(c *tags.Catalog) {
	if len(c.Skipped) > 0 {
		s.logger.WithField("tag_ids", c.Skipped).Warn("dropped options with duplicate tag ids")
	}
	c.SortByOrder()
	listen := tags.NewList(c, tags.ModeListen)
	speak := tags.NewList(c, tags.ModeSpeak)

	if !s.Configuration().ResetTagDefaultsOnStartup {
		for _, l := range []*tags.List{listen, speak} {
			if err := l.RestoreSelectionState(s.prefs); err != nil {
				s.logger.WithError(err).Warn("could not restore tag selection")
			}
		}
	}

	s.mu.Lock()
	s.catalog = c
	s.listen = listen
	s.speak = speak
	s.mu.Unlock()

	s.bus.Publish(events.TagsLoaded{Source: c.DataSource, Count: c.Len()})
}
