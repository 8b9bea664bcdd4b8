package helpers

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/pkg/pg"
	"github.com/relaytext/campaign-engine/pkg/redis"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.JobEntity{},
		&repository.CampaignEntity{},
		&repository.OptOutEntity{},
		&repository.ContactEntity{},
		&repository.AssignmentEntity{},
		&repository.MessagingIdentityEntity{},
		&repository.StickyBindingEntity{},
		&repository.MessageEntity{},
		&repository.PendingMessagePartEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Adapters are cached per connection name, so each test gets its own
	// name or it would inherit a connection to an earlier, closed server.
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestCampaign(t *testing.T, db *pg.DB, organizationID int64, dynamic bool) *repository.CampaignEntity {
	ctx := context.Background()
	campaign := &repository.CampaignEntity{
		OrganizationID:       organizationID,
		Title:                "test campaign",
		UseDynamicAssignment: dynamic,
	}
	err := db.Write(ctx).Create(campaign).Error
	require.NoError(t, err)
	return campaign
}

func CreateTestContact(t *testing.T, db *pg.DB, campaignID int64, cell string) *repository.ContactEntity {
	ctx := context.Background()
	contact := &repository.ContactEntity{
		CampaignID: campaignID,
		FirstName:  "Test",
		LastName:   "Contact",
		Cell:       cell,
		Status:     string(model.MessageStatusNeedsMessage),
	}
	err := db.Write(ctx).Create(contact).Error
	require.NoError(t, err)
	return contact
}

func CreateTestIdentity(t *testing.T, db *pg.DB, id string, organizationID int64) *repository.MessagingIdentityEntity {
	ctx := context.Background()
	identity := &repository.MessagingIdentityEntity{
		ID:             id,
		OrganizationID: organizationID,
	}
	err := db.Write(ctx).Create(identity).Error
	require.NoError(t, err)
	return identity
}

func CreateTestJob(t *testing.T, db *pg.DB, kind model.JobKind, campaignID, organizationID int64, payload []byte) *repository.JobEntity {
	ctx := context.Background()
	job := &repository.JobEntity{
		Kind:           string(kind),
		CampaignID:     campaignID,
		OrganizationID: organizationID,
		Payload:        payload,
	}
	err := db.Write(ctx).Create(job).Error
	require.NoError(t, err)
	return job
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
