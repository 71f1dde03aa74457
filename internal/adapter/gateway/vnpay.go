package gateway

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/aq2208/gorder-checkout/internal/security"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

const (
	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"
	hashTypeHMACSHA512  = "HMACSHA512"
	timeLayout          = "20060102150405"
)

var ErrMalformedCallback = errors.New("malformed gateway callback")

// Config is read once at startup and never mutated.
type Config struct {
	PayURL      string
	TmnCode     string
	HashSecret  string
	ReturnURL   string
	Version     string
	Command     string
	CurrCode    string
	Locale      string
	OrderType   string
	Timezone    string
	ExpireAfter time.Duration
}

type VNPay struct {
	cfg    Config
	loc    *time.Location
	signer security.Signer
}

func New(cfg Config) (*VNPay, error) {
	if cfg.PayURL == "" || cfg.TmnCode == "" || cfg.ReturnURL == "" {
		return nil, errors.New("gateway: pay_url, tmn_code and return_url are required")
	}
	signer, err := security.NewHMACSigner(cfg.HashSecret)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Ho_Chi_Minh"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("gateway: load timezone: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	if cfg.Command == "" {
		cfg.Command = "pay"
	}
	if cfg.CurrCode == "" {
		cfg.CurrCode = "VND"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "other"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	return &VNPay{cfg: cfg, loc: loc, signer: signer}, nil
}

func (g *VNPay) BuildRedirectURL(req usecase.PaymentRequest) (string, error) {
	if req.OrderCode == "" {
		return "", errors.New("gateway: order code required")
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("gateway: amount must be positive, got %d", req.Amount)
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.In(g.loc)
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", g.cfg.Version)
	params.Set("vnp_Command", g.cfg.Command)
	params.Set("vnp_TmnCode", g.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CurrCode", g.cfg.CurrCode)
	params.Set("vnp_TxnRef", req.OrderCode)
	params.Set("vnp_OrderInfo", base64.StdEncoding.EncodeToString([]byte(req.Description)))
	params.Set("vnp_OrderType", g.cfg.OrderType)
	params.Set("vnp_Locale", g.cfg.Locale)
	params.Set("vnp_ReturnUrl", g.cfg.ReturnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", created.Format(timeLayout))
	params.Set("vnp_ExpireDate", created.Add(g.cfg.ExpireAfter).Format(timeLayout))

	params.Set(paramSecureHash, g.Sign(params))
	params.Set(paramSecureHashType, hashTypeHMACSHA512)

	return g.cfg.PayURL + "?" + params.Encode(), nil
}

// Sign returns the hex digest of the canonical form of params. The hash
// fields themselves are never part of the signed data.
func (g *VNPay) Sign(params url.Values) string {
	return g.signer.Sign([]byte(Canonical(params)))
}

func (g *VNPay) VerifyCallback(params url.Values) (usecase.VerifiedCallback, error) {
	presented := params.Get(paramSecureHash)
	if presented == "" {
		return usecase.VerifiedCallback{}, fmt.Errorf("%w: missing %s", usecase.ErrInvalidSignature, paramSecureHash)
	}
	if !g.signer.Verify([]byte(Canonical(params)), presented) {
		return usecase.VerifiedCallback{}, usecase.ErrInvalidSignature
	}
	if tmn := params.Get("vnp_TmnCode"); tmn != g.cfg.TmnCode {
		return usecase.VerifiedCallback{}, fmt.Errorf("%w: unexpected merchant code %q", usecase.ErrInvalidSignature, tmn)
	}

	ref := params.Get("vnp_TxnRef")
	if ref == "" {
		return usecase.VerifiedCallback{}, fmt.Errorf("%w: missing vnp_TxnRef", ErrMalformedCallback)
	}
	raw, err := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64)
	if err != nil || raw < 0 || raw%100 != 0 {
		return usecase.VerifiedCallback{}, fmt.Errorf("%w: bad vnp_Amount %q", ErrMalformedCallback, params.Get("vnp_Amount"))
	}

	cb := usecase.VerifiedCallback{
		OrderRef:      ref,
		Amount:        raw / 100,
		ResponseCode:  params.Get("vnp_ResponseCode"),
		TransactionNo: params.Get("vnp_TransactionNo"),
		BankCode:      params.Get("vnp_BankCode"),
	}
	if s := params.Get("vnp_PayDate"); s != "" {
		if t, err := time.ParseInLocation(timeLayout, s, g.loc); err == nil {
			cb.PayDate = &t
		}
	}
	return cb, nil
}

// Canonical sorts the vnp_ parameters by key and joins them as an unescaped
// query string. Empty values and the hash fields are skipped.
func Canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == paramSecureHash || k == paramSecureHashType || !strings.HasPrefix(k, "vnp_") {
			continue
		}
		if params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	return b.String()
}

var _ usecase.PaymentGateway = (*VNPay)(nil)
