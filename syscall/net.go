package syscall

import (
	"defs"
	"fd"
	"socket"
	"task"
	"uas"
)

func getSocket(t *task.Task_t, fdn int) (*socket.Socket_t, defs.Err_t) {
	f, err := t.Fds.Get(fdn)
	if err != 0 {
		return nil, err
	}
	s, ok := f.Fops.(*socket.Socket_t)
	if !ok {
		return nil, defs.ENOTSOCK.AsErr()
	}
	return s, 0
}

func sysSocket(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	s, err := socket.MkSocket(socket.Kind_t(tf.Arg0()))
	if err != 0 {
		return 0, err
	}
	return t.Fds.Add(&fd.Fd_t{Fops: s, Perms: fd.FD_READ | fd.FD_WRITE})
}

func readSockaddr(t *task.Task_t, uva, ulen int) ([]uint8, defs.Err_t) {
	if uva == 0 {
		return nil, 0
	}
	buf := make([]uint8, ulen)
	if err := t.As.User2k(buf, uva); err != 0 {
		return nil, err
	}
	return buf, 0
}

func sysBind(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	s, err := getSocket(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	sa, err := readSockaddr(t, tf.Arg1(), tf.Arg2())
	if err != 0 {
		return 0, err
	}
	return 0, s.Bind(sa)
}

func sysListen(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	s, err := getSocket(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	_, err = s.Listen(tf.Arg1())
	return 0, err
}

func sysAccept(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	f, err := t.Fds.Get(tf.Arg0())
	if err != 0 {
		return 0, err
	}
	var saub, salenub uas.Userbuf_t
	salenub.Init(t.As, tf.Arg2(), 4)
	if tf.Arg1() != 0 {
		saub.Init(t.As, tf.Arg1(), 128)
	}
	conn, err := f.Fops.Accept(&saub, &salenub)
	if err != 0 {
		return 0, err
	}
	return t.Fds.Add(&fd.Fd_t{Fops: conn, Perms: fd.FD_READ | fd.FD_WRITE})
}

func sysConnect(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	s, err := getSocket(t, tf.Arg0())
	if err != 0 {
		return 0, err
	}
	sa, err := readSockaddr(t, tf.Arg1(), tf.Arg2())
	if err != 0 {
		return 0, err
	}
	return 0, s.Connect(sa)
}

func sysSendto(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	f, err := t.Fds.Get(tf.Arg0())
	if err != 0 {
		return 0, err
	}
	var ub uas.Userbuf_t
	ub.Init(t.As, tf.Arg1(), tf.Arg2())
	sa, err := readSockaddr(t, tf.Arg3(), tf.Arg4())
	if err != 0 {
		return 0, err
	}
	return f.Fops.Sendto(&ub, sa, 0)
}

func sysRecvfrom(t *task.Task_t, tf *InterruptFrame_t) (int, defs.Err_t) {
	f, err := t.Fds.Get(tf.Arg0())
	if err != 0 {
		return 0, err
	}
	var ub uas.Userbuf_t
	ub.Init(t.As, tf.Arg1(), tf.Arg2())
	var fromsa uas.Userbuf_t
	if tf.Arg3() != 0 {
		fromsa.Init(t.As, tf.Arg3(), 128)
	}
	n, err, _ := f.Fops.Recvfrom(&ub, &fromsa)
	return n, err
}
