package fd

import (
	"testing"

	"defs"
	"fdops"
)

type nopFops struct{}

func (nopFops) Read(fdops.Userio_i) (int, defs.Err_t)                  { return 0, 0 }
func (nopFops) Write(fdops.Userio_i) (int, defs.Err_t)                 { return 0, 0 }
func (nopFops) Fullpath() (string, defs.Err_t)                        { return "", 0 }
func (nopFops) Close() defs.Err_t                                     { return 0 }
func (nopFops) Stat(fdops.Stat_i) defs.Err_t                          { return 0 }
func (nopFops) Lseek(int, int) (int, defs.Err_t)                      { return 0, 0 }
func (nopFops) Reopen() defs.Err_t                                    { return 0 }
func (nopFops) Getdents(fdops.Userio_i) (int, defs.Err_t)             { return 0, 0 }
func (nopFops) Ioctl(int, int) (int, defs.Err_t)                      { return 0, 0 }
func (nopFops) Accept(fdops.Userio_i, fdops.Userio_i) (fdops.Fdops_i, defs.Err_t) {
	return nil, 0
}
func (nopFops) Bind([]uint8) defs.Err_t    { return 0 }
func (nopFops) Connect([]uint8) defs.Err_t { return 0 }
func (nopFops) Listen(int) (fdops.Fdops_i, defs.Err_t) {
	return nil, 0
}
func (nopFops) Sendto(fdops.Userio_i, []uint8, int) (int, defs.Err_t) { return 0, 0 }
func (nopFops) Recvfrom(fdops.Userio_i, fdops.Userio_i) (int, defs.Err_t, int) {
	return 0, 0, 0
}
func (nopFops) Pathi() fdops.Inode_i { return nil }

func TestFdtableLowestFree(t *testing.T) {
	ft := MkFdtable()
	a := &Fd_t{Fops: nopFops{}}
	n0, err := ft.Add(a)
	if err != 0 || n0 != 0 {
		t.Fatalf("expected fd 0, got %d err %d", n0, err)
	}
	n1, _ := ft.Add(&Fd_t{Fops: nopFops{}})
	if n1 != 1 {
		t.Fatalf("expected fd 1, got %d", n1)
	}
	ft.Remove(0)
	n2, _ := ft.Add(&Fd_t{Fops: nopFops{}})
	if n2 != 0 {
		t.Fatalf("expected reuse of fd 0, got %d", n2)
	}
}

func TestFdtableCloseExeced(t *testing.T) {
	ft := MkFdtable()
	ft.Add(&Fd_t{Fops: nopFops{}, Perms: FD_CLOEXEC})
	ft.Add(&Fd_t{Fops: nopFops{}})
	ft.CloseExeced()
	if _, err := ft.Get(0); err == 0 {
		t.Fatal("fd 0 should have been closed on exec")
	}
	if _, err := ft.Get(1); err != 0 {
		t.Fatal("fd 1 should survive exec")
	}
}
