package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/pmrelay/pmrelay/internal/correlation"
	"github.com/pmrelay/pmrelay/internal/directory"
	"github.com/pmrelay/pmrelay/internal/model"
	"github.com/pmrelay/pmrelay/internal/store"
)

// directoryDoc is a loaded directory together with the blob it came from.
type directoryDoc struct {
	svc  *Service
	key  store.Key
	blob *store.Blob
	dir  *directory.Directory
}

func (s *Service) directoryKey() store.Key {
	return store.DirectoryKey(s.cfg.BotID, s.cfg.OwnerUID)
}

func (s *Service) correlationKey(groupID int64) store.Key {
	return store.CorrelationKey(s.cfg.BotID, groupID)
}

// loadDirectory returns model.ErrNotInitialized when the owner never ran init.
func (s *Service) loadDirectory(ctx context.Context) (*directoryDoc, error) {
	key := s.directoryKey()
	b, err := s.docs.Load(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	dir, err := directory.Parse(b.Text)
	if err != nil {
		return nil, err
	}
	return &directoryDoc{svc: s, key: key, blob: b, dir: dir}, nil
}

// persist writes dir back. It matches routing.Persist.
func (d *directoryDoc) persist(ctx context.Context, dir *directory.Directory) error {
	if !dir.Fits() {
		return directory.ErrDirectoryFull
	}
	b, err := d.svc.docs.Save(ctx, d.key, d.blob, dir.String())
	if err != nil {
		return err
	}
	d.blob = b
	return nil
}

func (d *directoryDoc) save(ctx context.Context) error { return d.persist(ctx, d.dir) }

// loadCorrelation returns the group's log, or nil when it cannot be read. A
// failure is reported to the owner prefixed with what could not be done.
func (s *Service) loadCorrelation(ctx context.Context, groupID int64, failure string) *correlation.Log {
	b, err := s.docs.Load(ctx, s.correlationKey(groupID))
	if err != nil {
		s.report(ctx, fmt.Sprintf("%s %v", failure, err))
		return nil
	}
	return correlation.Parse(b.Text, s.cfg.CorrelationCap)
}

// saveLink appends link to the group's log, creating the log on first use.
func (s *Service) saveLink(ctx context.Context, groupID int64, link correlation.Link) {
	if err := s.appendLink(ctx, groupID, link); err != nil {
		s.report(ctx, fmt.Sprintf("GROUP %d MESSAGE %s: Chat message connect failed, can't do emoji react, edit, delete. %v",
			groupID, link, err))
	}
}

func (s *Service) appendLink(ctx context.Context, groupID int64, link correlation.Link) error {
	key := s.correlationKey(groupID)
	b, err := s.docs.Load(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		log := correlation.New(s.cfg.CorrelationCap)
		log.Append(link)
		_, err = s.docs.Create(ctx, key, log.String())
		return err
	}
	if err != nil {
		return err
	}
	log := correlation.Parse(b.Text, s.cfg.CorrelationCap)
	if n := log.Append(link); n > 0 {
		correlationEvictions.Add(float64(n))
		s.log.Debug().Int64("group_id", groupID).Int("evicted", n).Msg("Correlation log compacted")
	}
	_, err = s.docs.Save(ctx, key, b, log.String())
	return err
}
