// Package cli implements the REPL command surface of spec.md section 6:
// a thin tokenizer dispatching to the vfs Filesystem Facade.
//
// Grounded on HULER-cloud-SimLinuxFileSystem's shell/shell.go (the
// bufio.Scanner prompt loop, strings.Split tokenizing) and
// tranvaj-ZOS2023_SP_GO/main.go's per-command switch, trimmed of
// HULER's Windows cmd.exe passthrough and multi-process channel
// plumbing — this is a single in-process loop, matching spec.md
// section 5's single-threaded, synchronous model.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"blockfs/errs"
	"blockfs/vfs"
)

// REPL reads commands from in and writes output/prompts to out until it
// reads "quit" or hits EOF.
type REPL struct {
	fs  *vfs.FileSystem
	cwd string
	out io.Writer
	log *logrus.Logger
}

func New(fs *vfs.FileSystem, out io.Writer, log *logrus.Logger) *REPL {
	return &REPL{fs: fs, cwd: "/", out: out, log: log}
}

// Run drives the prompt loop over in until "quit" or EOF.
func (r *REPL) Run(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(r.out, "%s> ", r.cwd)
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		r.runCommand(strings.Fields(line))
	}
}

// runCommand dispatches one tokenized command, recovering a *errs.Fatal
// panic so an internal invariant violation aborts just that command
// instead of the whole REPL (spec.md section 4.7).
func (r *REPL) runCommand(args []string) {
	defer func() {
		if rec := recover(); rec != nil {
			if f, ok := rec.(*errs.Fatal); ok {
				fmt.Fprintf(r.out, "internal error: %v\n", f)
				r.log.WithField("op", f.Op).Error("recovered fatal error")
				return
			}
			panic(rec)
		}
	}()
	r.dispatch(args)
}

// resolve turns a command argument into an absolute path, honoring the
// REPL's current working directory for anything not already rooted.
func (r *REPL) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	if r.cwd == "/" {
		return path.Clean("/" + p)
	}
	return path.Clean(r.cwd + "/" + p)
}

func (r *REPL) fail(op string, err error) {
	fmt.Fprintf(r.out, "%s: %v\n", op, err)
	r.log.WithFields(logrus.Fields{"op": op, "kind": errs.KindOf(err)}).Debug("command failed")
}

func (r *REPL) dispatch(args []string) {
	switch args[0] {
	case "format":
		r.cmdFormat()
	case "ls":
		r.cmdLs(args[1:])
	case "cd":
		r.cmdCd(args[1:])
	case "mkdir":
		r.cmdMkdir(args[1:])
	case "rmdir":
		r.cmdRmdir(args[1:])
	case "touch":
		r.cmdTouch(args[1:])
	case "rm":
		r.cmdRm(args[1:])
	case "mkdirn":
		r.cmdMkdirN(args[1:])
	case "touchn":
		r.cmdTouchN(args[1:])
	case "cat":
		r.cmdCat(args[1:])
	case "open":
		r.cmdOpen(args[1:])
	case "close":
		r.cmdClose(args[1:])
	case "read":
		r.cmdRead(args[1:])
	case "write":
		r.cmdWrite(args[1:])
	case "seek":
		r.cmdSeek(args[1:])
	case "df":
		r.cmdDf()
	default:
		fmt.Fprintf(r.out, "unknown command: %s\n", args[0])
	}
}

func (r *REPL) cmdFormat() {
	if err := r.fs.Format(); err != nil {
		r.fail("format", err)
		return
	}
	r.cwd = "/"
	fmt.Fprintln(r.out, "formatted")
}

func (r *REPL) cmdLs(args []string) {
	target := r.cwd
	if len(args) > 0 {
		target = r.resolve(args[0])
	}
	entries, err := r.fs.ListDirectory(target)
	if err != nil {
		r.fail("ls", err)
		return
	}
	for _, e := range entries {
		fmt.Fprintf(r.out, "%d\t%d\t%s\n", e.InodeID, e.Size, e.Name)
	}
}

func (r *REPL) cmdCd(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: cd <path>")
		return
	}
	target := r.resolve(args[0])
	id, found, err := r.fs.LookupPath(target)
	if err != nil {
		r.fail("cd", err)
		return
	}
	if !found {
		r.fail("cd", errs.New("cli.cd", errs.NotFound))
		return
	}
	_ = id
	r.cwd = target
}

func (r *REPL) cmdMkdir(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: mkdir <name>")
		return
	}
	parent, name := path.Split(r.resolve(args[0]))
	if _, err := r.fs.CreateDir(cleanParent(parent), name); err != nil {
		r.fail("mkdir", err)
	}
}

func (r *REPL) cmdRmdir(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: rmdir <name>")
		return
	}
	parent, name := path.Split(r.resolve(args[0]))
	if err := r.fs.RemoveDir(cleanParent(parent), name); err != nil {
		r.fail("rmdir", err)
	}
}

func (r *REPL) cmdTouch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: touch <name>")
		return
	}
	parent, name := path.Split(r.resolve(args[0]))
	if _, err := r.fs.CreateFile(cleanParent(parent), name); err != nil {
		r.fail("touch", err)
	}
}

func (r *REPL) cmdRm(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: rm <name>")
		return
	}
	parent, name := path.Split(r.resolve(args[0]))
	if err := r.fs.RemoveFile(cleanParent(parent), name); err != nil {
		r.fail("rm", err)
	}
}

func (r *REPL) cmdMkdirN(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(r.out, "usage: mkdirn <parent> <prefix> <n>")
		return
	}
	n, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintln(r.out, "mkdirn: n must be an integer")
		return
	}
	done, failures := r.fs.MkdirN(r.resolve(args[0]), args[1], n)
	for _, f := range failures {
		fmt.Fprintf(r.out, "failed to create directory: %s: %v\n", f.Name, f.Err)
	}
	fmt.Fprintf(r.out, "batch created %d directories\n", done)
}

func (r *REPL) cmdTouchN(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(r.out, "usage: touchn <parent> <prefix> <n>")
		return
	}
	n, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintln(r.out, "touchn: n must be an integer")
		return
	}
	done, failures := r.fs.TouchN(r.resolve(args[0]), args[1], n)
	for _, f := range failures {
		fmt.Fprintf(r.out, "failed to create file: %s: %v\n", f.Name, f.Err)
	}
	fmt.Fprintf(r.out, "batch created %d files\n", done)
}

func (r *REPL) cmdCat(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: cat <path>")
		return
	}
	data, err := r.fs.Cat(r.resolve(args[0]))
	if err != nil {
		r.fail("cat", err)
		return
	}
	r.out.Write(data)
	fmt.Fprintln(r.out)
}

func (r *REPL) cmdOpen(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: open <path>")
		return
	}
	fd, err := r.fs.OpenFile(r.resolve(args[0]), 0)
	if err != nil {
		r.fail("open", err)
		return
	}
	fmt.Fprintf(r.out, "fd %d\n", fd)
}

func (r *REPL) cmdClose(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: close <fd>")
		return
	}
	fd, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(r.out, "close: fd must be an integer")
		return
	}
	if err := r.fs.CloseFD(fd); err != nil {
		r.fail("close", err)
	}
}

func (r *REPL) cmdRead(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(r.out, "usage: read <fd> <n>")
		return
	}
	fd, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(r.out, "read: fd must be an integer")
		return
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(r.out, "read: n must be an integer")
		return
	}
	buf := make([]byte, n)
	got, err := r.fs.Read(fd, buf)
	if err != nil {
		r.fail("read", err)
		return
	}
	r.out.Write(buf[:got])
	fmt.Fprintln(r.out)
}

func (r *REPL) cmdWrite(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "usage: write <fd> <data...>")
		return
	}
	fd, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(r.out, "write: fd must be an integer")
		return
	}
	data := []byte(strings.Join(args[1:], " "))
	if _, err := r.fs.Write(fd, data); err != nil {
		r.fail("write", err)
	}
}

func (r *REPL) cmdSeek(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(r.out, "usage: seek <fd> <offset>")
		return
	}
	fd, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(r.out, "seek: fd must be an integer")
		return
	}
	offset, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintln(r.out, "seek: offset must be a non-negative integer")
		return
	}
	if err := r.fs.Seek(fd, offset); err != nil {
		r.fail("seek", err)
	}
}

func (r *REPL) cmdDf() {
	d := r.fs.Df()
	fmt.Fprintf(r.out, "block size:    %d\n", d.BlockSize)
	fmt.Fprintf(r.out, "blocks total:  %d\n", d.TotalBlocks)
	fmt.Fprintf(r.out, "blocks free:   %d\n", d.FreeBlocks)
	fmt.Fprintf(r.out, "inodes total:  %d\n", d.TotalInodes)
	fmt.Fprintf(r.out, "inodes free:   %d\n", d.FreeInodes)
}

// cleanParent normalizes the directory half of a path.Split result back
// into an absolute path understood by LookupPath ("" and "/" both mean
// root).
func cleanParent(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
