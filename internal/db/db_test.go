package db

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
)

func TestDialector_ByPrefix(t *testing.T) {
	if _, ok := Dialector("postgres://u:p@localhost/db").(*postgres.Dialector); !ok {
		t.Fatalf("expected postgres dialector")
	}
	if _, ok := Dialector("file::memory:").(*sqlite.Dialector); !ok {
		t.Fatalf("expected sqlite dialector")
	}
	if _, ok := Dialector("app:pass@tcp(127.0.0.1:3306)/roomstage").(*mysql.Dialector); !ok {
		t.Fatalf("expected mysql dialector")
	}
}

func TestConnect_SQLiteMemory(t *testing.T) {
	gdb, err := Connect("file:connect_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := gdb.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("ping: %v", err)
	}
}
