package inode_test

import (
	"testing"
	"time"

	"github.com/yechoo0321/fdircore/internal/dentry"
	"github.com/yechoo0321/fdircore/internal/fdirerr"
	"github.com/yechoo0321/fdircore/internal/inode"
	"github.com/yechoo0321/fdircore/internal/lockstate"
)

func newInode(t *testing.T, tbl *inode.Table, ino uint64) {
	t.Helper()
	if err := tbl.Add(&dentry.Dentry{Inode: ino, Stat: dentry.Stat{Mode: dentry.ModeRegular, Size: 100}}); err != nil {
		t.Fatal(err)
	}
}

// Property 7 / scenario S3: a non-blocking SH request against a held
// overlapping EX lock fails with ENOLCK (surfaced as EAGAIN); the
// blocking form enqueues a waiter, which the EX holder's unlock wakes.
func TestFlockConflictAndWake(t *testing.T) {
	tbl := inode.NewDefaultTable()
	newInode(t, tbl, 5)

	t1 := lockstate.Owner{Tid: 1, Pid: 100}
	t2 := lockstate.Owner{Tid: 2, Pid: 100}

	res, err := tbl.Flock(5, t1, lockstate.Exclusive, 0, 0, true)
	if err != nil || res.Waiter != nil {
		t.Fatalf("T1 flock = %+v, %v; want immediate grant", res, err)
	}

	if _, err := tbl.Flock(5, t2, lockstate.Shared, 0, 0, true); !fdirerr.Is(err, fdirerr.ENOLCK) {
		t.Fatalf("T2 non-blocking flock = %v; want ENOLCK", err)
	}

	res2, err := tbl.Flock(5, t2, lockstate.Shared, 0, 0, false)
	if err != nil || res2.Waiter == nil {
		t.Fatalf("T2 blocking flock = %+v, %v; want a waiter", res2, err)
	}

	if err := tbl.Unlock(5, t1, 0, 0); err != nil {
		t.Fatalf("T1 unlock = %v", err)
	}

	select {
	case <-res2.Waiter.Done:
	case <-time.After(time.Second):
		t.Fatal("T2 waiter never woken after T1 unlock")
	}
}

func TestFlockNonOverlappingRangesBothSucceed(t *testing.T) {
	tbl := inode.NewDefaultTable()
	newInode(t, tbl, 9)
	t1 := lockstate.Owner{Tid: 1}
	t2 := lockstate.Owner{Tid: 2}

	if _, err := tbl.Flock(9, t1, lockstate.Exclusive, 0, 10, true); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Flock(9, t2, lockstate.Exclusive, 10, 10, true); err != nil {
		t.Fatalf("non-overlapping EX by different owner = %v; want nil", err)
	}
}

func TestGetlkProbeDoesNotAcquire(t *testing.T) {
	tbl := inode.NewDefaultTable()
	newInode(t, tbl, 3)
	holder := lockstate.Owner{Tid: 1}
	prober := lockstate.Owner{Tid: 2}

	if _, err := tbl.Flock(3, holder, lockstate.Exclusive, 0, 0, true); err != nil {
		t.Fatal(err)
	}
	res, err := tbl.Getlk(3, prober, lockstate.Shared, 0, 0)
	if err != nil || !res.Conflict || res.Owner != holder {
		t.Fatalf("Getlk = %+v, %v; want conflict from %+v", res, err, holder)
	}
	// Getlk must not have granted anything: a second non-blocking probe
	// from the same prober still reports the same conflict.
	res2, err := tbl.Getlk(3, prober, lockstate.Shared, 0, 0)
	if err != nil || !res2.Conflict {
		t.Fatalf("second Getlk = %+v, %v; want still conflicting", res2, err)
	}
}

// Property 8 / scenario S4: set_size semantics.
func TestCheckSetDentrySize(t *testing.T) {
	tbl := inode.NewDefaultTable()
	newInode(t, tbl, 5)

	mask, err := tbl.CheckSetDentrySize(5, 50, false, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if mask&dentry.StatFieldSize != 0 {
		t.Fatalf("shrinking without force should not set size field: mask=%v", mask)
	}

	mask, err = tbl.CheckSetDentrySize(5, 200, false, 1500)
	if err != nil {
		t.Fatal(err)
	}
	if mask&dentry.StatFieldSize == 0 || mask&dentry.StatFieldMTime == 0 {
		t.Fatalf("growing size should set size+mtime: mask=%v", mask)
	}
	d, err := tbl.Find(5)
	if err != nil || d.Stat.Size != 200 {
		t.Fatalf("stat after grow = %+v, %v; want size=200", d, err)
	}

	mask, err = tbl.CheckSetDentrySize(5, 200, false, 1500)
	if err != nil {
		t.Fatal(err)
	}
	if mask != 0 {
		t.Fatalf("no-op set_size should report no modified fields: mask=%v", mask)
	}

	mask, err = tbl.CheckSetDentrySize(5, 50, true, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if mask&dentry.StatFieldSize == 0 {
		t.Fatalf("force should shrink: mask=%v", mask)
	}
}

// Scenario S4: sys_lock/sys_unlock with an atomic set_size
// callback.
func TestSysLockSetSizeCallback(t *testing.T) {
	tbl := inode.NewDefaultTable()
	newInode(t, tbl, 5)

	res, err := tbl.SysLock(5, true)
	if err != nil || res.Size != 100 {
		t.Fatalf("SysLock = %+v, %v; want size=100", res, err)
	}

	if err := tbl.SysUnlock(5, func(d *dentry.Dentry) { d.Stat.Size = 200 }); err != nil {
		t.Fatal(err)
	}
	d, err := tbl.Find(5)
	if err != nil || d.Stat.Size != 200 {
		t.Fatalf("stat after sys_unlock = %+v, %v; want size=200", d, err)
	}
}

// Property 6: add/del idempotence.
func TestAddDelIdempotence(t *testing.T) {
	tbl := inode.NewDefaultTable()
	d := &dentry.Dentry{Inode: 42}
	if err := tbl.Add(d); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Add(d); !fdirerr.Is(err, fdirerr.EEXIST) {
		t.Fatalf("second Add = %v; want EEXIST", err)
	}
	if err := tbl.Remove(42); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Remove(42); !fdirerr.Is(err, fdirerr.ENOENT) {
		t.Fatalf("second Remove = %v; want ENOENT", err)
	}
}
