package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
)

const botToken = "123456:TEST-token"

// signInitData builds init data signed the way Telegram signs it.
func signInitData(token string, authDate time.Time, userJSON string) string {
	vals := map[string]string{
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
		"query_id":  "AAH-test",
		"user":      userJSON,
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+vals[k])
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(token))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	q := url.Values{}
	for k, v := range vals {
		q.Set(k, v)
	}
	q.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return q.Encode()
}

func TestInitDataValidator(t *testing.T) {
	v := NewInitDataValidator(botToken, time.Hour)
	raw := signInitData(botToken, time.Now(), `{"id":111,"first_name":"Ann","username":"ann"}`)

	u, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(111), u.ID)
	assert.Equal(t, "ann", u.Username)
}

func TestInitDataValidator_Rejects(t *testing.T) {
	v := NewInitDataValidator(botToken, time.Hour)

	cases := map[string]string{
		"foreign bot": signInitData("999:other", time.Now(), `{"id":111}`),
		"too old":     signInitData(botToken, time.Now().Add(-2*time.Hour), `{"id":111}`),
		"empty":       "",
		"no user":     signInitData(botToken, time.Now(), `{}`),
	}
	for name, raw := range cases {
		_, err := v.Validate(raw)
		assert.Equal(t, apperrors.CodeTelegramVerification, apperrors.CodeOf(err), name)
	}

	tampered := signInitData(botToken, time.Now(), `{"id":111}`)
	tampered = strings.Replace(tampered, "111", "112", 1)
	_, err := v.Validate(tampered)
	assert.Equal(t, apperrors.CodeTelegramVerification, apperrors.CodeOf(err))
}

func TestInitDataValidator_Disabled(t *testing.T) {
	v := NewInitDataValidator("", time.Hour)
	assert.False(t, v.Enabled())
	_, err := v.Validate("anything")
	assert.Equal(t, apperrors.CodeTelegramVerifyNotEnabled, apperrors.CodeOf(err))
}
