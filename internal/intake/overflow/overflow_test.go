package overflow

import "testing"

func TestRecordAndDrainOne(t *testing.T) {
	log, err := Open(t.TempDir() + "/overflow.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	if err := log.Record([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := log.Record([]byte(`{"a":2}`)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	n, err := log.Len()
	if err != nil || n != 2 {
		t.Fatalf("expected len 2, got %d err=%v", n, err)
	}

	item, err := log.DrainOne()
	if err != nil {
		t.Fatalf("DrainOne: %v", err)
	}
	if string(item.Payload) != `{"a":1}` {
		t.Errorf("expected FIFO order, got %s", item.Payload)
	}

	n, _ = log.Len()
	if n != 1 {
		t.Errorf("expected len 1 after drain, got %d", n)
	}
}

func TestDrainOneOnEmptyLogReturnsNil(t *testing.T) {
	log, err := Open(t.TempDir() + "/overflow.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	item, err := log.DrainOne()
	if err != nil {
		t.Fatalf("DrainOne on empty log: %v", err)
	}
	if item != nil {
		t.Errorf("expected nil item on empty log, got %+v", item)
	}
}
