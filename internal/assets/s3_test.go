package assets

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3StorePut(t *testing.T) {
	fake := &fakeS3{}
	st := &S3Store{client: fake, bucket: "imgs", region: "ap-northeast-2"}

	url, err := st.Put(context.Background(), "p1_cake.png", "image/png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "https://imgs.s3.ap-northeast-2.amazonaws.com/p1_cake.png", url)
	assert.Equal(t, "imgs", aws.ToString(fake.in.Bucket))
	assert.Equal(t, "image/png", aws.ToString(fake.in.ContentType))
	assert.Equal(t, []byte("png"), fake.body)
}

func TestS3StorePutFailure(t *testing.T) {
	st := &S3Store{client: &fakeS3{err: errors.New("denied")}, bucket: "imgs"}
	_, err := st.Put(context.Background(), "k", "image/png", nil)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}
