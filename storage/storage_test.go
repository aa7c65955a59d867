package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	report "github.com/goliatone/go-report"
)

func meta() Metadata {
	return Metadata{
		ReportID:    "r-1",
		AgencyID:    "agency-9",
		UserID:      "u-1",
		Type:        report.TypeSales,
		Format:      report.FormatCSV,
		ContentType: "text/csv",
		Extension:   ".csv",
		GeneratedAt: time.Date(2024, 3, 7, 22, 0, 0, 0, time.UTC),
		ExpiresAt:   time.Date(2024, 6, 5, 22, 0, 0, 0, time.UTC),
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "agency-9/2024/03/07/r-1.csv", Key(meta()))

	m := meta()
	m.AgencyID = "../evil"
	m.ReportID = "a/b"
	assert.Equal(t, "___evil/2024/03/07/a_b.csv", Key(m))
}

func TestFileStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "/reports", WithBaseURL("https://files.example.com/"), WithFileLogger(report.NopLogger{}))

	stored, err := store.Store(context.Background(), []byte("a,b\n1,2\n"), meta())
	require.NoError(t, err)

	assert.Equal(t, "agency-9/2024/03/07/r-1.csv", stored.FileID)
	assert.Equal(t, "https://files.example.com/agency-9/2024/03/07/r-1.csv", stored.URL)
	assert.Equal(t, int64(8), stored.Size)
	assert.Equal(t, meta().ExpiresAt, stored.ExpiresAt)

	body, err := store.Open(stored.FileID)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))
}

func TestFileStoreDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "/reports", WithFileLogger(report.NopLogger{}))

	stored, err := store.Store(context.Background(), []byte("x"), meta())
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), stored.FileID))
	ok, err := afero.Exists(fs, "/reports/"+stored.FileID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, store.Delete(context.Background(), stored.FileID), "missing artifact")
}

func TestFileStoreReadOnlyFails(t *testing.T) {
	store := NewFileStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/reports", WithFileLogger(report.NopLogger{}))
	_, err := store.Store(context.Background(), []byte("x"), meta())
	require.Error(t, err)
	assert.True(t, report.HasCode(err, report.ErrCodeStorageFailed))
}

type fakeObjects struct {
	in      *s3.PutObjectInput
	deleted []string
	err     error
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

type fakeSigner struct {
	expires time.Duration
}

func (f *fakeSigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed/" + *in.Bucket + "/" + *in.Key}, nil
}

func TestS3Store(t *testing.T) {
	objects := &fakeObjects{}
	signer := &fakeSigner{}
	now := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)
	store := newS3Store(objects, signer, "bucket", WithS3Clock(func() time.Time { return now }), WithS3Logger(report.NopLogger{}))

	stored, err := store.Store(context.Background(), []byte("hello"), meta())
	require.NoError(t, err)

	assert.Equal(t, "https://signed/bucket/agency-9/2024/03/07/r-1.csv", stored.URL)
	assert.Equal(t, int64(5), stored.Size)
	assert.Equal(t, "text/csv", *objects.in.ContentType)
	assert.Equal(t, "r-1", objects.in.Metadata["report-id"])
	assert.Equal(t, 4*24*time.Hour, signer.expires)
}

func TestS3StoreCapsPresignAtSevenDays(t *testing.T) {
	signer := &fakeSigner{}
	store := newS3Store(&fakeObjects{}, signer, "bucket",
		WithS3Clock(func() time.Time { return meta().GeneratedAt }), WithS3Logger(report.NopLogger{}))

	_, err := store.Store(context.Background(), []byte("x"), meta())
	require.NoError(t, err)
	assert.Equal(t, maxPresign, signer.expires)
}

func TestS3StorePutFailure(t *testing.T) {
	store := newS3Store(&fakeObjects{err: errors.New("denied")}, &fakeSigner{}, "bucket", WithS3Logger(report.NopLogger{}))
	_, err := store.Store(context.Background(), []byte("x"), meta())
	assert.True(t, report.HasCode(err, report.ErrCodeStorageFailed))
}

func TestS3StoreDelete(t *testing.T) {
	objects := &fakeObjects{}
	store := newS3Store(objects, &fakeSigner{}, "bucket", WithS3Logger(report.NopLogger{}))

	require.NoError(t, store.Delete(context.Background(), "agency-9/2024/03/07/r-1.csv"))
	assert.Equal(t, []string{"bucket/agency-9/2024/03/07/r-1.csv"}, objects.deleted)

	store = newS3Store(&fakeObjects{err: errors.New("denied")}, &fakeSigner{}, "bucket", WithS3Logger(report.NopLogger{}))
	err := store.Delete(context.Background(), "k")
	assert.True(t, report.HasCode(err, report.ErrCodeStorageFailed))
}
