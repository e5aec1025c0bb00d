package trace

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// File is a fully parsed trace: the header fields plus every record in
// file order.
type File struct {
	StartTime int64
	Objects   []Object
	Records   []Record
}

// Description resolves an object pointer against the header table,
// empty when unknown.
func (f *File) Description(pointer uint64) string {
	for _, obj := range f.Objects {
		if obj.Pointer == pointer {
			return obj.Description
		}
	}
	return ""
}

// ReadFile parses the trace file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	tf, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return tf, nil
}

// Read parses a complete trace stream.
func Read(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)
	f := &File{}

	var head [12]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	f.StartTime = int64(binary.LittleEndian.Uint64(head[0:8]))
	tableSize := int32(binary.LittleEndian.Uint32(head[8:12]))
	if tableSize < 0 {
		return nil, fmt.Errorf("negative object table size %d", tableSize)
	}
	for i := int32(0); i < tableSize; i++ {
		var ptr [8]byte
		if _, err := io.ReadFull(br, ptr[:]); err != nil {
			return nil, fmt.Errorf("read object %d: %w", i, err)
		}
		desc, err := br.ReadString(0)
		if err != nil {
			return nil, fmt.Errorf("read object %d description: %w", i, err)
		}
		f.Objects = append(f.Objects, Object{
			Pointer:     binary.LittleEndian.Uint64(ptr[:]),
			Description: desc[:len(desc)-1],
		})
	}

	var rec [recordSize]byte
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return f, nil
			}
			return nil, fmt.Errorf("read frame length: %w", err)
		}
		n := int32(binary.LittleEndian.Uint32(lenBuf[:]))
		if n < 0 {
			return nil, fmt.Errorf("negative frame length %d", n)
		}
		for i := int32(0); i < n; i++ {
			if _, err := io.ReadFull(br, rec[:]); err != nil {
				return nil, fmt.Errorf("read record: %w", err)
			}
			f.Records = append(f.Records, decodeRecord(rec[:]))
		}
	}
}

func decodeRecord(b []byte) Record {
	return Record{
		EventType:    EventType(binary.LittleEndian.Uint32(b[0:4])),
		Pointer:      binary.LittleEndian.Uint64(b[4:12]),
		SrcID:        int32(binary.LittleEndian.Uint32(b[12:16])),
		DstID:        int32(binary.LittleEndian.Uint32(b[16:20])),
		LogicalTime:  int64(binary.LittleEndian.Uint64(b[20:28])),
		Microstep:    binary.LittleEndian.Uint32(b[28:32]),
		PhysicalTime: int64(binary.LittleEndian.Uint64(b[32:40])),
		Trigger:      binary.LittleEndian.Uint64(b[40:48]),
		ExtraDelay:   int64(binary.LittleEndian.Uint64(b[48:56])),
	}
}
