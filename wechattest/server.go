// Package wechattest runs an in-process stand-in for the remote publishing
// service, for exercising credential leasing, uploads and draft reconciliation
// against real HTTP.
package wechattest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/julienschmidt/httprouter"
	cst "wuyrush.io/wxpub/constants"
)

type envelope struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type material struct {
	MediaID string `json:"media_id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}

type draftArticle map[string]interface{}

type draft struct {
	MediaID  string
	Articles []draftArticle
}

// Server mimics the remote service's credential, material and draft endpoints.
// All mutable state sits behind one mutex; counters let tests assert on remote
// traffic.
type Server struct {
	hs *httptest.Server

	appID     string
	appSecret string

	mu        sync.Mutex
	token     string
	tokenSeq  int
	materials []material // newest first
	drafts    []draft    // newest first
	nextSeq   int

	// counters
	TokenIssued int
	UploadCalls int

	// failure injection
	FailMaterialList bool
	FailDraftList    bool
}

func NewServer(appID, appSecret string) *Server {
	s := &Server{appID: appID, appSecret: appSecret}
	r := httprouter.New()
	r.GET(cst.PathToken, s.handleToken)
	r.POST(cst.PathMaterialAdd, s.authed(s.handleMaterialAdd))
	r.POST(cst.PathMaterialList, s.authed(s.handleMaterialList))
	r.POST(cst.PathDraftAdd, s.authed(s.handleDraftAdd))
	r.POST(cst.PathDraftUpdate, s.authed(s.handleDraftUpdate))
	r.POST(cst.PathDraftGet, s.authed(s.handleDraftGet))
	r.POST(cst.PathDraftList, s.authed(s.handleDraftList))
	r.POST(cst.PathDraftDelete, s.authed(s.handleDraftDelete))
	s.hs = httptest.NewServer(r)
	return s
}

func (s *Server) URL() string { return s.hs.URL }

func (s *Server) Close() { s.hs.Close() }

// InvalidateTokens expires every credential issued so far; the next
// authenticated call gets a credential rejection.
func (s *Server) InvalidateTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// Materials snapshots the hosted assets, newest first.
func (s *Server) Materials() []material {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]material(nil), s.materials...)
}

// DraftCount reports how many drafts the stub currently holds.
func (s *Server) DraftCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}

// DraftArticles returns the articles of the draft with the given media id.
func (s *Server) DraftArticles(mediaID string) []draftArticle {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.drafts {
		if d.MediaID == mediaID {
			return append([]draftArticle(nil), d.Articles...)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, envelope{ErrCode: code, ErrMsg: msg})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	if q.Get("grant_type") != "client_credential" {
		writeErr(w, 40002, "invalid grant_type")
		return
	}
	if q.Get("appid") != s.appID {
		writeErr(w, 40013, "invalid appid")
		return
	}
	if q.Get("secret") != s.appSecret {
		writeErr(w, 40001, "invalid credential")
		return
	}
	s.mu.Lock()
	s.tokenSeq++
	s.TokenIssued++
	s.token = fmt.Sprintf("tok-%d", s.tokenSeq)
	tok := s.token
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{
		"errcode": 0, "errmsg": "ok",
		"access_token": tok,
		"expires_in":   7200,
	})
}

// authed rejects calls whose access_token is not the current one, the way the
// remote service answers with errcode 40001.
func (s *Server) authed(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tok := r.URL.Query().Get("access_token")
		s.mu.Lock()
		ok := tok != "" && tok == s.token
		s.mu.Unlock()
		if !ok {
			writeErr(w, 40001, "invalid credential")
			return
		}
		next(w, r, ps)
	}
}

func (s *Server) handleMaterialAdd(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if r.URL.Query().Get("type") != "image" {
		writeErr(w, 40004, "invalid media type")
		return
	}
	f, fh, err := r.FormFile("media")
	if err != nil {
		writeErr(w, 41005, "media data missing")
		return
	}
	defer f.Close()
	if _, err := io.ReadAll(f); err != nil {
		writeErr(w, 41005, "media data missing")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UploadCalls++
	s.nextSeq++
	m := material{
		MediaID: fmt.Sprintf("media-%d", s.nextSeq),
		Name:    fh.Filename,
		URL:     s.hs.URL + "/hosted/" + fh.Filename,
	}
	s.materials = append([]material{m}, s.materials...)
	writeJSON(w, map[string]interface{}{
		"errcode": 0, "errmsg": "ok",
		"media_id": m.MediaID,
		"url":      m.URL,
	})
}

func (s *Server) handleMaterialList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Type   string `json:"type"`
		Offset int    `json:"offset"`
		Count  int    `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, 47001, "data format error")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailMaterialList {
		writeErr(w, 50001, "api unauthorized")
		return
	}
	items := page(len(s.materials), req.Offset, req.Count)
	out := make([]material, 0, len(items))
	for _, i := range items {
		out = append(out, s.materials[i])
	}
	writeJSON(w, map[string]interface{}{
		"errcode": 0, "errmsg": "ok",
		"total_count": len(s.materials),
		"item_count":  len(out),
		"item":        out,
	})
}

func (s *Server) handleDraftAdd(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Articles []draftArticle `json:"articles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Articles) == 0 {
		writeErr(w, 47001, "data format error")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	d := draft{MediaID: fmt.Sprintf("draft-%d", s.nextSeq), Articles: req.Articles}
	s.drafts = append([]draft{d}, s.drafts...)
	writeJSON(w, map[string]interface{}{
		"errcode": 0, "errmsg": "ok",
		"media_id": d.MediaID,
	})
}

func (s *Server) handleDraftUpdate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		MediaID  string       `json:"media_id"`
		Index    int          `json:"index"`
		Articles draftArticle `json:"articles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, 47001, "data format error")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.drafts {
		if d.MediaID != req.MediaID {
			continue
		}
		if req.Index < 0 || req.Index >= len(d.Articles) {
			writeErr(w, 40007, "invalid media_id")
			return
		}
		s.drafts[i].Articles[req.Index] = req.Articles
		writeJSON(w, envelope{ErrCode: 0, ErrMsg: "ok"})
		return
	}
	writeErr(w, 40007, "invalid media_id")
}

func (s *Server) handleDraftGet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		MediaID string `json:"media_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, 47001, "data format error")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.drafts {
		if d.MediaID == req.MediaID {
			writeJSON(w, map[string]interface{}{
				"errcode": 0, "errmsg": "ok",
				"news_item": d.Articles,
			})
			return
		}
	}
	writeErr(w, 40007, "invalid media_id")
}

func (s *Server) handleDraftList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Offset    int `json:"offset"`
		Count     int `json:"count"`
		NoContent int `json:"no_content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, 47001, "data format error")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDraftList {
		writeErr(w, 50001, "api unauthorized")
		return
	}
	items := page(len(s.drafts), req.Offset, req.Count)
	out := make([]map[string]interface{}, 0, len(items))
	for _, i := range items {
		d := s.drafts[i]
		it := map[string]interface{}{"media_id": d.MediaID, "update_time": 0}
		if req.NoContent == 0 {
			it["content"] = map[string]interface{}{"news_item": d.Articles}
		}
		out = append(out, it)
	}
	writeJSON(w, map[string]interface{}{
		"errcode": 0, "errmsg": "ok",
		"total_count": len(s.drafts),
		"item_count":  len(out),
		"item":        out,
	})
}

func (s *Server) handleDraftDelete(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		MediaID string `json:"media_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, 47001, "data format error")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.drafts {
		if d.MediaID == req.MediaID {
			s.drafts = append(s.drafts[:i], s.drafts[i+1:]...)
			writeJSON(w, envelope{ErrCode: 0, ErrMsg: "ok"})
			return
		}
	}
	writeErr(w, 40007, "invalid media_id")
}

// page returns the indices of one listing page over total items.
func page(total, offset, count int) []int {
	if offset >= total || count <= 0 {
		return nil
	}
	end := offset + count
	if end > total {
		end = total
	}
	idx := make([]int, 0, end-offset)
	for i := offset; i < end; i++ {
		idx = append(idx, i)
	}
	return idx
}
