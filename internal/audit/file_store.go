package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/terraconstructs/rolewarden/internal/platform"
)

// ErrClosed is returned by a FileStore after Close.
var ErrClosed = errors.New("audit store closed")

// FileStore keeps audit records in a single JSON document. One goroutine owns
// the file; every read and read-modify-write goes through its request queue,
// so callers never need external locking.
type FileStore struct {
	path string

	requests  chan fileRequest
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type fileRequest struct {
	write  bool
	member platform.MemberID
	record Record
	reply  chan fileReply
}

type fileReply struct {
	data map[string]Record
	err  error
}

// NewFileStore starts the owner goroutine for the file at path. The file is
// created on the first write.
func NewFileStore(path string) *FileStore {
	s := &FileStore{
		path:     path,
		requests: make(chan fileRequest),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Close stops the owner goroutine. Pending callers receive ErrClosed.
func (s *FileStore) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func (s *FileStore) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.requests:
			req.reply <- s.handle(req)
		case <-s.quit:
			return
		}
	}
}

func (s *FileStore) handle(req fileRequest) fileReply {
	data, err := s.read()
	if err != nil {
		return fileReply{err: err}
	}
	if !req.write {
		return fileReply{data: data}
	}

	data[req.member.String()] = req.record
	if err := s.write(data); err != nil {
		return fileReply{err: err}
	}
	return fileReply{}
}

// read loads the whole document. A missing file is an empty store; a corrupt
// file is an error so that the next write does not discard its contents.
func (s *FileStore) read() (map[string]Record, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]Record), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	data := make(map[string]Record)
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode audit file %s: %w", s.path, err)
	}
	return data, nil
}

// write replaces the document atomically via a temp file in the same directory.
func (s *FileStore) write(data map[string]Record) error {
	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return fmt.Errorf("encode audit file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp audit file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp audit file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp audit file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp audit file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace audit file: %w", err)
	}
	return nil
}

func (s *FileStore) submit(ctx context.Context, req fileRequest) (fileReply, error) {
	req.reply = make(chan fileReply, 1)
	select {
	case s.requests <- req:
	case <-s.quit:
		return fileReply{}, ErrClosed
	case <-ctx.Done():
		return fileReply{}, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		return rep, rep.err
	case <-ctx.Done():
		return fileReply{}, ctx.Err()
	}
}

// Record overwrites the member's entry.
func (s *FileStore) Record(ctx context.Context, member platform.MemberID, rec Record) error {
	_, err := s.submit(ctx, fileRequest{write: true, member: member, record: rec})
	return err
}

// Load returns every record in the file.
func (s *FileStore) Load(ctx context.Context) (map[platform.MemberID]Record, error) {
	rep, err := s.submit(ctx, fileRequest{})
	if err != nil {
		return nil, err
	}
	out := make(map[platform.MemberID]Record, len(rep.data))
	for key, rec := range rep.data {
		member, err := platform.ParseMemberID(key)
		if err != nil {
			return nil, fmt.Errorf("audit file %s: %w", s.path, err)
		}
		out[member] = rec
	}
	return out, nil
}

// Count returns the number of members in the file.
func (s *FileStore) Count(ctx context.Context) (int, error) {
	rep, err := s.submit(ctx, fileRequest{})
	if err != nil {
		return 0, err
	}
	return len(rep.data), nil
}

// Get returns the member's record or ErrNotFound.
func (s *FileStore) Get(ctx context.Context, member platform.MemberID) (Record, error) {
	rep, err := s.submit(ctx, fileRequest{})
	if err != nil {
		return Record{}, err
	}
	rec, ok := rep.data[member.String()]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}
