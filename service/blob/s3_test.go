package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"DMSync/module/dm/mocks"
	"DMSync/tools/errs"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Uploader_PutObject(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotBody  []byte
		gotCType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotCType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up, err := NewS3Uploader(context.Background(), S3Config{
		Region:      "us-east-1",
		Bucket:      "dm",
		AccessKeyID: "ak",
		SecretKey:   "sk",
		Endpoint:    srv.URL,
	})
	require.NoError(t, err)

	data := []byte("hello attachment")
	url, err := up.Upload(context.Background(), "attachments/p2p:a_b/x-note.txt", bytes.NewReader(data), int64(len(data)), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/dm/attachments/p2p:a_b/x-note.txt", url)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(gotPath, "/dm/attachments/"))
	assert.Equal(t, "text/plain", gotCType)
	assert.Equal(t, data, gotBody)
}

func TestURL(t *testing.T) {
	u := &S3Uploader{cfg: S3Config{Region: "eu-west-1", Bucket: "dm"}}
	assert.Equal(t, "https://dm.s3.eu-west-1.amazonaws.com/k", u.URL("k"))
	u.cfg.PublicBaseURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/k", u.URL("k"))
}

func TestAttachmentKey(t *testing.T) {
	key := AttachmentKey("p2p:a_b", "../../etc/my photo.png")
	assert.True(t, strings.HasPrefix(key, "attachments/p2p:a_b/"))
	assert.True(t, strings.HasSuffix(key, "-my_photo.png"))
	assert.Equal(t, "file", sanitizeName(""))
}

func TestUploadAttachment(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := mocks.NewMockUploader(ctrl)
	ctx := context.Background()

	up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), int64(3), "image/png").Return("https://cdn/x.png", nil)
	att, err := UploadAttachment(ctx, up, "p2p:a_b", "x.png", "image/png", 3, strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.png", att.URL)
	assert.Equal(t, "x.png", att.Name)

	up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), "application/octet-stream").Return("", errors.New("503"))
	_, err = UploadAttachment(ctx, up, "p2p:a_b", "y.bin", "", 1, strings.NewReader("a"))
	assert.ErrorIs(t, err, errs.ErrUploadFailed)

	_, err = UploadAttachment(ctx, up, "p2p:a_b", "big", "", MaxAttachmentSize+1, strings.NewReader(""))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
