package db_test

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/subhubhq/subhub-backend/pkg/db"
)

type txRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func openTestClient(t *testing.T) *db.Client {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := gormDB.AutoMigrate(&txRow{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	client := db.FromGorm(gormDB)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestWithTxCommits(t *testing.T) {
	client := openTestClient(t)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(&txRow{Name: "kept"}).Error
	})
	if err != nil {
		t.Fatalf("expected commit, got %v", err)
	}

	var count int64
	if err := client.Gorm().Model(&txRow{}).Count(&count).Error; err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	client := openTestClient(t)

	boom := errors.New("boom")
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Create(&txRow{Name: "discarded"}).Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int64
	if err := client.Gorm().Model(&txRow{}).Count(&count).Error; err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, got %d rows", count)
	}
}
