package publish

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/quill/internal/config"
	"github.com/Paintersrp/quill/internal/export"
)

type uploaderMock struct {
	mock.Mock
}

func (m *uploaderMock) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	args := m.Called(input)
	out, _ := args.Get(0).(*manager.UploadOutput)
	return out, args.Error(1)
}

func TestPublishUploadsUnderPrefix(t *testing.T) {
	up := &uploaderMock{}
	p := NewWithUploader(config.ExportConfig{Bucket: "notes", Prefix: "/exports/"}, up, nil)
	res := &export.Result{Data: []byte("<html>"), Filename: "trip.html", MimeType: "text/html"}

	var body string
	up.On("Upload", mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "notes" &&
			aws.ToString(in.Key) == "exports/trip.html" &&
			aws.ToString(in.ContentType) == "text/html"
	})).Run(func(args mock.Arguments) {
		data, err := io.ReadAll(args.Get(0).(*s3.PutObjectInput).Body)
		require.NoError(t, err)
		body = string(data)
	}).Return(&manager.UploadOutput{Location: "https://notes.s3/exports/trip.html"}, nil).Once()

	loc, err := p.Publish(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, "https://notes.s3/exports/trip.html", loc)
	assert.Equal(t, "<html>", body)
	up.AssertExpectations(t)
}

func TestPublishFallsBackToS3URI(t *testing.T) {
	up := &uploaderMock{}
	p := NewWithUploader(config.ExportConfig{Bucket: "notes"}, up, nil)

	up.On("Upload", mock.Anything).Return(&manager.UploadOutput{}, nil)

	loc, err := p.Publish(context.Background(), &export.Result{Filename: "a.zip"})
	require.NoError(t, err)
	assert.Equal(t, "s3://notes/a.zip", loc)
}

func TestPublishWrapsUploadErrors(t *testing.T) {
	up := &uploaderMock{}
	p := NewWithUploader(config.ExportConfig{Bucket: "notes"}, up, nil)
	boom := errors.New("denied")

	up.On("Upload", mock.Anything).Return(nil, boom)

	_, err := p.Publish(context.Background(), &export.Result{Filename: "a.zip"})
	assert.ErrorIs(t, err, boom)
}

func TestPublishRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), config.ExportConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoBucket)

	p := NewWithUploader(config.ExportConfig{}, &uploaderMock{}, nil)
	_, err = p.Publish(context.Background(), &export.Result{Filename: "a.zip"})
	assert.ErrorIs(t, err, ErrNoBucket)
}
