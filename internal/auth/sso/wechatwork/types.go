package wechatwork

import (
	"fmt"
)

// Exchange steps, named after the vendor endpoints.
const (
	StepGetToken    = "gettoken"
	StepGetUserInfo = "getuserinfo"
	StepGetUser     = "user/get"
)

// Profile is the member detail returned by user/get.
type Profile struct {
	UserID      string  `json:"userid"`
	Name        string  `json:"name"`
	Department  []int64 `json:"department"`
	Position    string  `json:"position"`
	Mobile      string  `json:"mobile"`
	Gender      string  `json:"gender"`
	Email       string  `json:"email"`
	Avatar      string  `json:"avatar"`
	Status      int     `json:"status"`
	Enable      int     `json:"enable"`
	IsLeader    int     `json:"isleader"`
	ExtAttr     ExtAttr `json:"extattr"`
	Telephone   string  `json:"telephone"`
	Alias       string  `json:"alias"`
	Address     string  `json:"address"`
	ThumbAvatar string  `json:"thumb_avatar"`
	QRCode      string  `json:"qr_code"`
}

// ExtAttr holds custom member attributes configured by the corp admin.
type ExtAttr struct {
	Attrs []Attr `json:"attrs"`
}

// Attr is a single custom attribute. Type 0 is text, 1 is a web link.
type Attr struct {
	Type int       `json:"type"`
	Name string    `json:"name"`
	Text *AttrText `json:"text,omitempty"`
	Web  *AttrWeb  `json:"web,omitempty"`
}

type AttrText struct {
	Value string `json:"value"`
}

type AttrWeb struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// status carries the in-band errcode/errmsg pair present on every response.
type status struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (s status) errorFor(step string) error {
	if s.ErrCode == 0 {
		return nil
	}
	return &APIError{Step: step, Code: s.ErrCode, Message: s.ErrMsg}
}

type tokenResponse struct {
	status
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type userInfoResponse struct {
	status
	UserID      string `json:"UserId"`
	UserIDLower string `json:"userid"`
	OpenID      string `json:"OpenId"`
}

func (r userInfoResponse) userID() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.UserIDLower
}

type userDetailResponse struct {
	status
	Profile
}

// APIError is a non-zero errcode returned by the vendor. Its message is the
// vendor errmsg verbatim.
type APIError struct {
	Step    string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("wechat-work %s: errcode %d", e.Step, e.Code)
}
