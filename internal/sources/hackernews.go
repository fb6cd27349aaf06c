// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/models"
)

const (
	hackerNewsTopStoriesURL = "https://hacker-news.firebaseio.com/v0/topstories.json"
	hackerNewsItemURLFmt    = "https://hacker-news.firebaseio.com/v0/item/%d.json"
	hackerNewsStoryURLFmt   = "https://news.ycombinator.com/item?id=%d"

	defaultHackerNewsLimit = 30
)

// hackerNewsAdapter fans out one item request per story id from the
// top-stories list, bounded by the adapter's sub-request semaphore.
type hackerNewsAdapter struct {
	*baseAdapter
	limit      int
	itemURLFmt string
}

type hackerNewsStory struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Score int    `json:"score"`
	By    string `json:"by"`
	Time  int64  `json:"time"`
	Type  string `json:"type"`
}

func newHackerNewsAdapter(src models.Source, client *fetch.Client, concurrency int64) (*hackerNewsAdapter, error) {
	limit := defaultHackerNewsLimit
	if v, ok := src.Config["item_limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	a := &hackerNewsAdapter{
		baseAdapter: newBaseAdapter(src, client, concurrency),
		limit:       limit,
		itemURLFmt:  hackerNewsItemURLFmt,
	}
	a.urls = []string{hackerNewsTopStoriesURL}
	a.fetchOne = a.fetchTopStories
	return a, nil
}

func (a *hackerNewsAdapter) fetchTopStories(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
	resp, err := a.client.Do(ctx, &fetch.Request{
		SourceID: a.source.SourceID,
		Method:   http.MethodGet,
		URL:      rawURL,
		UseCache: true,
		Refresh:  force,
	})
	if err != nil {
		return nil, err
	}

	var ids []int64
	if err := resp.JSON(&ids); err != nil {
		return nil, err
	}
	if len(ids) > a.limit {
		ids = ids[:a.limit]
	}

	// One slot per story; list order is preserved so rank survives the
	// concurrent fan-out.
	items := make([]*models.NewsItem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			release, err := a.acquireSub(gctx)
			if err != nil {
				return err
			}
			defer release()

			story, err := a.fetchStory(gctx, id, force)
			if err != nil {
				// A single missing story must not sink the whole list.
				logging.Debug().Str("source", a.source.SourceID).
					Int64("story_id", id).Err(err).Msg("story fetch failed")
				return nil
			}
			if story != nil {
				items[i] = story
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.NewsItem, 0, len(items))
	for rank, it := range items {
		if it == nil {
			continue
		}
		it.Extra["rank"] = rank + 1
		out = append(out, *it)
	}
	return out, nil
}

func (a *hackerNewsAdapter) fetchStory(ctx context.Context, id int64, force bool) (*models.NewsItem, error) {
	resp, err := a.client.Do(ctx, &fetch.Request{
		SourceID: a.source.SourceID,
		Method:   http.MethodGet,
		URL:      fmt.Sprintf(a.itemURLFmt, id),
		UseCache: true,
		Refresh:  force,
	})
	if err != nil {
		return nil, err
	}
	var story hackerNewsStory
	if err := resp.JSON(&story); err != nil {
		return nil, err
	}
	if story.Title == "" || story.Type == "job" {
		return nil, nil
	}

	link := story.URL
	if link == "" {
		// Ask HN and similar text posts have no external URL.
		link = fmt.Sprintf(hackerNewsStoryURLFmt, story.ID)
	}
	item := &models.NewsItem{
		ID:         models.ItemID(a.source.SourceID, strconv.FormatInt(story.ID, 10)),
		SourceID:   a.source.SourceID,
		SourceName: a.source.Name,
		Title:      story.Title,
		URL:        link,
		Extra: map[string]any{
			"score":       story.Score,
			"author":      story.By,
			"comment_url": fmt.Sprintf(hackerNewsStoryURLFmt, story.ID),
		},
	}
	if story.Time > 0 {
		nt := models.NewNaiveTime(time.Unix(story.Time, 0))
		item.PublishedAt = &nt
	}
	return item, nil
}
