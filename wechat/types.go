package wechat

import (
	we "wuyrush.io/wxpub/errors"
	md "wuyrush.io/wxpub/models"
)

// Envelope is the header every remote response carries. errcode 0 means success.
type Envelope struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Err translates a non-zero envelope into a typed remote-API error.
func (e Envelope) Err() *we.Err {
	if e.ErrCode == 0 {
		return nil
	}
	return we.NewRemoteAPI(e.ErrCode, e.ErrMsg)
}

// enveloped lets the transport surface remote errors uniformly after decoding.
type enveloped interface {
	Err() *we.Err
}

type accessTokenResponse struct {
	Envelope
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// MaterialAddResponse is the remote answer to a persistent asset upload.
type MaterialAddResponse struct {
	Envelope
	MediaID string `json:"media_id"`
	URL     string `json:"url"`
}

// MaterialItem is one previously uploaded asset in a listing.
type MaterialItem struct {
	MediaID    string `json:"media_id"`
	Name       string `json:"name"`
	UpdateTime int64  `json:"update_time"`
	URL        string `json:"url"`
}

type materialListResponse struct {
	Envelope
	TotalCount int            `json:"total_count"`
	ItemCount  int            `json:"item_count"`
	Item       []MaterialItem `json:"item"`
}

type draftAddResponse struct {
	Envelope
	MediaID string `json:"media_id"`
}

// DraftContent wraps the articles stored under one remote draft.
type DraftContent struct {
	NewsItem []md.Article `json:"news_item"`
}

// DraftItem is one remote draft in a listing.
type DraftItem struct {
	MediaID    string       `json:"media_id"`
	UpdateTime int64        `json:"update_time"`
	Content    DraftContent `json:"content"`
}

type draftListResponse struct {
	Envelope
	TotalCount int         `json:"total_count"`
	ItemCount  int         `json:"item_count"`
	Item       []DraftItem `json:"item"`
}

type draftGetResponse struct {
	Envelope
	NewsItem []md.Article `json:"news_item"`
}

type draftAddRequest struct {
	Articles []*md.Article `json:"articles"`
}

// draftUpdateRequest carries a single article object, not a list.
type draftUpdateRequest struct {
	MediaID  string      `json:"media_id"`
	Index    int         `json:"index"`
	Articles *md.Article `json:"articles"`
}

type draftKeyRequest struct {
	MediaID string `json:"media_id"`
}

type draftListRequest struct {
	Offset    int `json:"offset"`
	Count     int `json:"count"`
	NoContent int `json:"no_content"`
}

type materialListRequest struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Count  int    `json:"count"`
}
