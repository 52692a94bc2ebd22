package report

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"taxrollsync/internal/blob"
)

// Published describes where an artifact landed.
type Published struct {
	Info blob.Info
	// ArchiveKey is set when an archive copy was written.
	ArchiveKey string
}

// Publisher writes artifacts to a blob store at a fixed key, replacing the
// previous artifact. With an archive prefix it also keeps a per-submit copy.
type Publisher struct {
	store         blob.Store
	key           string
	archivePrefix string
}

// NewPublisher returns a publisher; an empty key selects ArtifactName.
func NewPublisher(store blob.Store, key, archivePrefix string) *Publisher {
	if strings.TrimSpace(key) == "" {
		key = ArtifactName
	}
	return &Publisher{store: store, key: key, archivePrefix: archivePrefix}
}

// Key returns the fixed artifact key.
func (p *Publisher) Key() string { return p.key }

// Publish replaces the artifact at the fixed key.
func (p *Publisher) Publish(ctx context.Context, art Artifact, identity string) (Published, error) {
	opts := blob.PutOptions{
		ContentType: art.ContentType,
		Metadata: map[string]string{
			"artifact-id": art.ID,
			"identity":    identity,
			"sheets":      strings.Join(art.Sheets, ","),
		},
	}
	if _, err := p.store.Delete(ctx, p.key); err != nil {
		return Published{}, fmt.Errorf("replace %s: %w", p.key, err)
	}
	info, err := p.store.Put(ctx, p.key, bytes.NewReader(art.Data), opts)
	if err != nil {
		return Published{}, fmt.Errorf("store %s: %w", p.key, err)
	}
	out := Published{Info: info}
	if p.archivePrefix != "" {
		key := path.Join(p.archivePrefix, art.CreatedAt.UTC().Format("20060102T150405Z")+"-"+art.ID+".xlsx")
		if _, err := p.store.Put(ctx, key, bytes.NewReader(art.Data), opts); err != nil {
			return Published{}, fmt.Errorf("archive %s: %w", key, err)
		}
		out.ArchiveKey = key
	}
	return out, nil
}

// Archived lists the archive copies, oldest first.
func (p *Publisher) Archived(ctx context.Context) ([]blob.Info, error) {
	if p.archivePrefix == "" {
		return nil, nil
	}
	prefix := strings.TrimSuffix(p.archivePrefix, "/") + "/"
	return p.store.List(ctx, prefix)
}
