package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pcmid/clipchan/internal/errs"
	"github.com/pcmid/clipchan/internal/wbi"
)

const navURL = "https://api.bilibili.com/x/web-interface/nav"

// MasterInfo is the subset of the upstream Master/info response this
// module needs to resolve a mid to its room id and account name.
type MasterInfo struct {
	RoomID uint64 `json:"room_id"`
	Info   struct {
		Uid   int64  `json:"uid"`
		Uname string `json:"uname"`
	} `json:"info"`
}

// RoomInfo is the subset of the upstream Room/get_info response needed to
// guard against double-starting an already-live room.
type RoomInfo struct {
	RoomID     uint64 `json:"room_id"`
	LiveStatus int    `json:"live_status"`
	Title      string `json:"title"`
	AreaID     int64  `json:"area_id"`
	AreaName   string `json:"area_name"`
}

// SubLiveArea is one selectable live category.
type SubLiveArea struct {
	ID         string `json:"id"`
	ParentID   string `json:"parent_id"`
	Name       string `json:"name"`
	ParentName string `json:"parent_name"`
}

// LiveArea is a parent category with its selectable sub-areas.
type LiveArea struct {
	ID   int           `json:"id"`
	Name string        `json:"name"`
	List []SubLiveArea `json:"list"`
}

// StartLiveResult is the subset of StartResponse needed to begin
// pushing, plus the live_key/sub_session_key/isp diagnostics bilibili
// attaches to the new session.
type StartLiveResult struct {
	Change        int    `json:"change"`
	RTMPAddr      string `json:"addr"`
	RTMPCode      string `json:"code"`
	LiveKey       string `json:"live_key"`
	SubSessionKey string `json:"sub_session_key"`
	Isp           string `json:"isp"`
}

type startLiveResponse struct {
	Change        int    `json:"change"`
	LiveKey       string `json:"live_key"`
	SubSessionKey string `json:"sub_session_key"`
	RTMP          struct {
		Addr string `json:"addr"`
		Code string `json:"code"`
	} `json:"rtmp"`
	UpStreamExtra struct {
		Isp string `json:"isp"`
	} `json:"up_stream_extra"`
}

// RoomClient is the upstream "room" API surface: master/room lookups, the
// live-area catalogue, and start/stop live. Grounded on
// original_source/bilive/src/live.rs.
type RoomClient struct {
	session *Session
	signer  *wbi.Signer
}

// NewRoomClient binds a RoomClient to session, wiring the WBI signer's key
// fetcher to the session's own authenticated client so the nav lookup
// reuses the same cookies and rate limiter.
func NewRoomClient(session *Session) *RoomClient {
	rc := &RoomClient{session: session}
	rc.signer = wbi.NewSigner(rc.fetchWbiKeys)
	return rc
}

func (r *RoomClient) fetchWbiKeys() (imgKey, subKey string, err error) {
	var env responseEnvelope
	if err := r.session.doJSON(context.Background(), http.MethodGet, navURL, nil, &env); err != nil {
		return "", "", err
	}
	var data struct {
		WbiImg struct {
			ImgURL string `json:"img_url"`
			SubURL string `json:"sub_url"`
		} `json:"wbi_img"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", "", fmt.Errorf("decode nav data: %w", err)
	}
	return extractKey(data.WbiImg.ImgURL), extractKey(data.WbiImg.SubURL), nil
}

// extractKey takes the basename of a wbi_img URL and strips its
// extension, yielding the raw img/sub key.
func extractKey(rawURL string) string {
	base := rawURL
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base
}

// MasterInfo resolves a mid's room id and display name.
func (r *RoomClient) MasterInfo(ctx context.Context, mid int64) (*MasterInfo, error) {
	var env responseEnvelope
	params := url.Values{"uid": {strconv.FormatInt(mid, 10)}}
	if err := r.session.doJSON(ctx, http.MethodGet, "https://api.live.bilibili.com/live_user/v1/Master/info", params, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, &errs.UpstreamError{Code: env.Code, Msg: env.Message}
	}
	var info MasterInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return nil, fmt.Errorf("decode master info: %w", err)
	}
	return &info, nil
}

// RoomInfo fetches live status for an explicit room id, WBI-signed.
func (r *RoomClient) RoomInfo(ctx context.Context, roomID uint64) (*RoomInfo, error) {
	params := map[string]string{"room_id": strconv.FormatUint(roomID, 10)}
	wRid, wts, err := r.signer.Sign(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrWbiExpired, err)
	}

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("wts", strconv.FormatInt(wts, 10))
	q.Set("w_rid", wRid)

	var env responseEnvelope
	if err := r.session.doJSON(ctx, http.MethodGet, "https://api.live.bilibili.com/room/v1/Room/get_info", q, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, &errs.UpstreamError{Code: env.Code, Msg: env.Message}
	}
	var info RoomInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return nil, fmt.Errorf("decode room info: %w", err)
	}
	return &info, nil
}

// RoomInfoByMid resolves mid -> room id -> RoomInfo in one call.
func (r *RoomClient) RoomInfoByMid(ctx context.Context, mid int64) (*RoomInfo, error) {
	master, err := r.MasterInfo(ctx, mid)
	if err != nil {
		return nil, err
	}
	if master.RoomID == 0 {
		return nil, fmt.Errorf("no room found for mid %d", mid)
	}
	return r.RoomInfo(ctx, master.RoomID)
}

// ListAreas fetches the full parent/child live-area catalogue.
func (r *RoomClient) ListAreas(ctx context.Context) ([]LiveArea, error) {
	var env responseEnvelope
	if err := r.session.doJSON(ctx, http.MethodGet, "https://api.live.bilibili.com/room/v1/Area/getList", nil, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, &errs.UpstreamError{Code: env.Code, Msg: env.Message}
	}
	var areas []LiveArea
	if err := json.Unmarshal(env.Data, &areas); err != nil {
		return nil, fmt.Errorf("decode areas: %w", err)
	}
	return areas, nil
}

// StartLive begins pushing for roomID under areaID, returning the RTMP
// ingest address and stream key. A non-zero response code, and a code of
// 0 with change != 1 (bilibili accepted the request but did not actually
// change state), are both returned as an *errs.UpstreamError.
func (r *RoomClient) StartLive(ctx context.Context, roomID uint64, areaID int64) (*StartLiveResult, error) {
	creds, err := r.session.Credentials()
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"room_id":  {strconv.FormatUint(roomID, 10)},
		"area_v2":  {strconv.FormatInt(areaID, 10)},
		"platform": {"web"},
		"csrf":     {creds.BiliJct},
	}

	var env responseEnvelope
	if err := r.session.doJSON(ctx, http.MethodPost, "https://api.live.bilibili.com/room/v1/Room/startLive", form, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, &errs.UpstreamError{Code: env.Code, Msg: env.Message}
	}
	var resp startLiveResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode start_live response: %w", err)
	}
	if resp.Change != 1 {
		return nil, &errs.UpstreamError{Code: env.Code, Msg: "startLive accepted but reported no state change"}
	}

	return &StartLiveResult{
		Change:        resp.Change,
		RTMPAddr:      resp.RTMP.Addr,
		RTMPCode:      resp.RTMP.Code,
		LiveKey:       resp.LiveKey,
		SubSessionKey: resp.SubSessionKey,
		Isp:           resp.UpStreamExtra.Isp,
	}, nil
}

// StopLive ends the live session for roomID.
func (r *RoomClient) StopLive(ctx context.Context, roomID uint64) error {
	creds, err := r.session.Credentials()
	if err != nil {
		return err
	}

	form := url.Values{
		"room_id": {strconv.FormatUint(roomID, 10)},
		"csrf":    {creds.BiliJct},
	}

	var env responseEnvelope
	if err := r.session.doJSON(ctx, http.MethodPost, "https://api.live.bilibili.com/room/v1/Room/stopLive", form, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		return &errs.UpstreamError{Code: env.Code, Msg: env.Message}
	}
	return nil
}
