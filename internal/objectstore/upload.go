package objectstore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type uploadItem struct {
	localPath string
	key       string
}

// worklist flattens the tree under root into (local path, key) pairs. Keys
// are prefix/<relative path>. Directories are walked breadth-first from an
// explicit queue; os.ReadDir keeps the order stable.
func worklist(root, prefix string) ([]uploadItem, error) {
	type dirItem struct {
		local  string
		remote string
	}

	var items []uploadItem
	queue := []dirItem{{local: root, remote: prefix}}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir.local)
		if err != nil {
			return nil, fmt.Errorf("read output directory %s: %w", dir.local, err)
		}
		for _, entry := range entries {
			local := filepath.Join(dir.local, entry.Name())
			remote := path.Join(dir.remote, entry.Name())
			if entry.IsDir() {
				queue = append(queue, dirItem{local: local, remote: remote})
				continue
			}
			if entry.Type().IsRegular() {
				items = append(items, uploadItem{localPath: local, key: remote})
			}
		}
	}
	return items, nil
}

// UploadTree uploads every file under root to prefix/ in the output bucket
// and returns the public reference of the tree's master manifest, which must
// sit at root/masterName. The master is uploaded last so it never points at
// renditions that are not yet in the bucket. Keys are deterministic, so a
// repeated upload overwrites the same objects.
func (c *Client) UploadTree(ctx context.Context, root, prefix, masterName string) (string, error) {
	items, err := worklist(root, prefix)
	if err != nil {
		return "", err
	}

	masterKey := path.Join(prefix, masterName)
	var master *uploadItem
	rest := items[:0:0]
	for i := range items {
		if items[i].key == masterKey {
			master = &items[i]
			continue
		}
		rest = append(rest, items[i])
	}
	if master == nil {
		return "", fmt.Errorf("master manifest %s not found in %s", masterName, root)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, item := range rest {
		g.Go(func() error {
			if err := c.put(gctx, item); err != nil {
				return err
			}
			log.Debug().Str("key", item.key).Msg("successfully uploaded the file")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if err := c.put(ctx, *master); err != nil {
		return "", err
	}
	url := c.PublicURL(master.key)
	log.Info().Str("url", url).Int("files", len(items)).Msg("successfully uploaded the rendition tree")
	return url, nil
}
