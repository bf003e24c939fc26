// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package reservation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jontk/slurm-controller/internal/types"
	cerrors "github.com/jontk/slurm-controller/pkg/errors"
	"github.com/jontk/slurm-controller/pkg/retry"
)

// stateVersion is written at the head of every dump so a future format
// change can be detected on load instead of silently misparsed.
const stateVersion = "RESV_STATE_VERSION_1"

// DumpState purges every expired reservation and serialises what remains
// to w in the exact field order Slurm's controller uses on disk:
// [version, timestamp, (accounts, end_time, features, name, node_cnt,
// node_list, partition, start_time, type, users)*]. Every write happens
// on the manager's own lock, so the snapshot is internally consistent.
func (m *Manager) DumpState(w io.Writer) error {
	m.ExpireStale()

	m.mu.RLock()
	defer m.mu.RUnlock()

	bw := bufio.NewWriter(w)
	if err := writeString(bw, stateVersion); err != nil {
		return cerrors.Wrap(cerrors.KindDBConnection, "writing reservation state version", err)
	}
	if err := binary.Write(bw, binary.BigEndian, uint64(m.now().Unix())); err != nil {
		return cerrors.Wrap(cerrors.KindDBConnection, "writing reservation state timestamp", err)
	}

	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := m.byName[name]
		if err := writeRecord(bw, r); err != nil {
			return cerrors.Wrap(cerrors.KindDBConnection, "writing reservation record "+name, err)
		}
	}

	return bw.Flush()
}

func writeRecord(w *bufio.Writer, r *types.Reservation) error {
	if err := writeString(w, formatCSV(r.Accounts)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint64(r.End.Unix())); err != nil {
		return err
	}
	if err := writeString(w, formatCSV(r.Features)); err != nil {
		return err
	}
	if err := writeString(w, r.Name); err != nil {
		return err
	}

	nodeCount := uint32(0)
	if r.Nodes != nil {
		nodeCount = uint32(r.Nodes.PopCount())
	}
	if err := binary.Write(w, binary.BigEndian, nodeCount); err != nil {
		return err
	}
	if err := writeString(w, r.NodeList); err != nil {
		return err
	}
	if err := writeString(w, r.Partition); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint64(r.Start.Unix())); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, reservationTypeCode(r.Type)); err != nil {
		return err
	}
	if err := writeString(w, formatCSV(r.Users)); err != nil {
		return err
	}
	return nil
}

// reservationTypeCode and parseReservationTypeCode implement the wire
// encoding for the "type:uint16" field of the persisted record format.
func reservationTypeCode(t types.ReservationType) uint16 {
	switch t {
	case types.ReservationUser:
		return 1
	default:
		return 0 // types.ReservationMaint
	}
}

func parseReservationTypeCode(code uint16) types.ReservationType {
	if code == 1 {
		return types.ReservationUser
	}
	return types.ReservationMaint
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// LoadState replaces the manager's live reservation set with the contents
// of r. Node bitmaps are re-resolved against the current inventory rather
// than trusting the persisted node_cnt, since node indices may have
// shifted since the dump was written.
func (m *Manager) LoadState(r io.Reader) error {
	version, err := readString(r)
	if err != nil {
		return cerrors.Wrap(cerrors.KindDBConnection, "reading reservation state version", err)
	}
	if version != stateVersion {
		return cerrors.New(cerrors.KindDBConnection, fmt.Sprintf("unsupported reservation state version %q", version))
	}

	var timestamp uint64
	if err := binary.Read(r, binary.BigEndian, &timestamp); err != nil {
		return cerrors.Wrap(cerrors.KindDBConnection, "reading reservation state timestamp", err)
	}

	loaded := make(map[string]*types.Reservation)
	for {
		resv, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return cerrors.Wrap(cerrors.KindDBConnection, "reading reservation record", err)
		}
		if resv.NodeList != "" {
			bm, rerr := m.nodes.ResolveNodeList(resv.NodeList, nil)
			if rerr == nil {
				resv.Nodes = bm
			}
		}
		loaded[resv.Name] = resv
	}

	m.mu.Lock()
	m.byName = loaded
	m.mu.Unlock()
	return nil
}

func readRecord(r io.Reader) (*types.Reservation, error) {
	accounts, err := readString(r)
	if err != nil {
		return nil, err
	}
	var endUnix uint64
	if err := binary.Read(r, binary.BigEndian, &endUnix); err != nil {
		return nil, err
	}
	features, err := readString(r)
	if err != nil {
		return nil, err
	}
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	var nodeCount uint32
	if err := binary.Read(r, binary.BigEndian, &nodeCount); err != nil {
		return nil, err
	}
	nodeList, err := readString(r)
	if err != nil {
		return nil, err
	}
	partition, err := readString(r)
	if err != nil {
		return nil, err
	}
	var startUnix uint64
	if err := binary.Read(r, binary.BigEndian, &startUnix); err != nil {
		return nil, err
	}
	var resvTypeCode uint16
	if err := binary.Read(r, binary.BigEndian, &resvTypeCode); err != nil {
		return nil, err
	}
	users, err := readString(r)
	if err != nil {
		return nil, err
	}
	_ = nodeCount

	return &types.Reservation{
		Name:      name,
		Start:     time.Unix(int64(startUnix), 0).UTC(),
		End:       time.Unix(int64(endUnix), 0).UTC(),
		Accounts:  parseCSV(accounts),
		Users:     parseCSV(users),
		NodeList:  nodeList,
		Features:  parseCSV(features),
		Partition: partition,
		Type:      parseReservationTypeCode(resvTypeCode),
	}, nil
}

// SaveToFile dumps state to <dir>/resv_state via temp-file write, fsync,
// and atomic rename, keeping the previous version at <dir>/resv_state.old
// so a crash mid-write never loses both copies.
func (m *Manager) SaveToFile(dir string) error {
	current := filepath.Join(dir, "resv_state")
	old := filepath.Join(dir, "resv_state.old")
	tmp := filepath.Join(dir, "resv_state.new")

	var buf bytes.Buffer
	if err := m.DumpState(&buf); err != nil {
		return err
	}

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return cerrors.Wrap(cerrors.KindDBConnection, "opening reservation state temp file", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return cerrors.Wrap(cerrors.KindDBConnection, "writing reservation state temp file", err)
	}
	// fsync is retried a few times before giving up: on some filesystems a
	// transient EINTR/EAGAIN during a concurrent snapshot write is
	// recoverable without redoing the whole dump.
	syncBackoff := retry.NewConstantBackoff(10*time.Millisecond, 3)
	if err := retry.Retry(context.Background(), syncBackoff, f.Sync); err != nil {
		f.Close()
		return cerrors.Wrap(cerrors.KindDBConnection, "fsyncing reservation state temp file", err)
	}
	if err := f.Close(); err != nil {
		return cerrors.Wrap(cerrors.KindDBConnection, "closing reservation state temp file", err)
	}

	if _, err := os.Stat(current); err == nil {
		if err := os.Rename(current, old); err != nil {
			return cerrors.Wrap(cerrors.KindDBConnection, "rotating reservation state file", err)
		}
	}
	if err := os.Rename(tmp, current); err != nil {
		return cerrors.Wrap(cerrors.KindDBConnection, "installing reservation state file", err)
	}
	return nil
}

// LoadFromFile loads state from <dir>/resv_state, falling back to
// resv_state.old if the primary file is missing or corrupt.
func (m *Manager) LoadFromFile(dir string) error {
	current := filepath.Join(dir, "resv_state")
	old := filepath.Join(dir, "resv_state.old")

	if f, err := os.Open(current); err == nil {
		defer f.Close()
		if lerr := m.LoadState(f); lerr == nil {
			return nil
		}
	}

	f, err := os.Open(old)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cerrors.Wrap(cerrors.KindDBConnection, "opening fallback reservation state file", err)
	}
	defer f.Close()
	return m.LoadState(f)
}
