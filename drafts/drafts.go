// Package drafts reconciles articles against remote drafts: publishing the
// same title again updates the existing draft instead of piling up duplicates.
package drafts

import (
	"context"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/wxpub/common/logging"
	we "wuyrush.io/wxpub/errors"
	md "wuyrush.io/wxpub/models"
	"wuyrush.io/wxpub/wechat"
)

// DraftLookupWindow is how many recent remote drafts the title match scans.
// A same-titled draft older than the window is not found and a new draft is
// created next to it.
const DraftLookupWindow = 20

// remoteAPI is the slice of the remote service the draft manager needs.
type remoteAPI interface {
	AddDraft(ctx context.Context, articles []*md.Article) (string, *we.Err)
	UpdateDraft(ctx context.Context, mediaID string, index int, article *md.Article) *we.Err
	GetDraft(ctx context.Context, mediaID string) ([]md.Article, *we.Err)
	ListDrafts(ctx context.Context, offset, count int) ([]wechat.DraftItem, *we.Err)
	DeleteDraft(ctx context.Context, mediaID string) *we.Err
}

// Manager finds or creates remote drafts keyed by article title.
type Manager struct {
	api remoteAPI
}

func NewManager(api remoteAPI) *Manager {
	return &Manager{api: api}
}

// Publish lands article in a remote draft and returns the draft's media id.
// If a recent draft's first article shares the title, that draft's first
// article is replaced in place; otherwise a fresh single-article draft is
// created.
func (m *Manager) Publish(ctx context.Context, article *md.Article) (string, *we.Err) {
	if article == nil || article.Title == "" {
		return "", we.NewBadInput("article has no title")
	}
	clog := logging.WithFuncName().WithField("title", article.Title)
	if id, ok := m.findByTitle(ctx, article.Title); ok {
		clog.WithField("mediaId", id).Info("found existing draft by title, updating")
		if err := m.api.UpdateDraft(ctx, id, 0, article); err != nil {
			return "", err
		}
		return id, nil
	}
	id, err := m.api.AddDraft(ctx, []*md.Article{article})
	if err != nil {
		return "", err
	}
	clog.WithField("mediaId", id).Info("created new draft")
	return id, nil
}

// findByTitle scans the most recent drafts for one whose first article carries
// title. Listing failures are swallowed: treating them as "no match" costs a
// duplicate draft at worst, whereas failing would block the publish.
func (m *Manager) findByTitle(ctx context.Context, title string) (string, bool) {
	items, err := m.api.ListDrafts(ctx, 0, DraftLookupWindow)
	if err != nil {
		logging.WithFuncName().WithError(err).WithField("title", title).
			Warn("error listing remote drafts, proceeding to create a new draft")
		return "", false
	}
	for _, it := range items {
		if len(it.Content.NewsItem) > 0 && it.Content.NewsItem[0].Title == title {
			return it.MediaID, true
		}
	}
	return "", false
}

// Update replaces the article at index within an existing draft.
func (m *Manager) Update(ctx context.Context, mediaID string, index int, article *md.Article) *we.Err {
	if mediaID == "" {
		return we.NewBadInput("draft media id is empty")
	}
	if article == nil {
		return we.NewBadInput("article is nil")
	}
	return m.api.UpdateDraft(ctx, mediaID, index, article)
}

// Get fetches the articles stored under a remote draft.
func (m *Manager) Get(ctx context.Context, mediaID string) ([]md.Article, *we.Err) {
	if mediaID == "" {
		return nil, we.NewBadInput("draft media id is empty")
	}
	return m.api.GetDraft(ctx, mediaID)
}

// List summarizes recent remote drafts, most recent first.
func (m *Manager) List(ctx context.Context, offset, count int) ([]md.DraftSummary, *we.Err) {
	items, err := m.api.ListDrafts(ctx, offset, count)
	if err != nil {
		return nil, err
	}
	out := make([]md.DraftSummary, 0, len(items))
	for _, it := range items {
		s := md.DraftSummary{MediaID: it.MediaID, UpdateTime: it.UpdateTime}
		if len(it.Content.NewsItem) > 0 {
			s.Title = it.Content.NewsItem[0].Title
		}
		out = append(out, s)
	}
	return out, nil
}

// Delete removes a remote draft.
func (m *Manager) Delete(ctx context.Context, mediaID string) *we.Err {
	if mediaID == "" {
		return we.NewBadInput("draft media id is empty")
	}
	if err := m.api.DeleteDraft(ctx, mediaID); err != nil {
		return err
	}
	logging.WithFuncName().WithFields(log.Fields{"mediaId": mediaID}).Info("deleted draft")
	return nil
}
