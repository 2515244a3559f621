package iodev

import (
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapWriter is a rotating pcap sink. It backs both the capture tap and the
// transmit side of PcapDevice.
type PcapWriter struct {
	filename     string
	maxSizeMB    int
	maxBackups   int
	file         *os.File
	writer       *pcapgo.Writer
	bytesWritten int64
}

// NewPcapWriter creates the output file and writes the pcap global header.
func NewPcapWriter(filename string, maxSizeMB, maxBackups int) (*PcapWriter, error) {
	w := &PcapWriter{
		filename:   filename,
		maxSizeMB:  maxSizeMB,
		maxBackups: maxBackups,
	}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

// WritePacket appends one frame, rotating the file first if it has grown past
// the size limit.
func (w *PcapWriter) WritePacket(frame []byte, timestamp time.Time) error {
	if w.maxSizeMB > 0 && w.bytesWritten > int64(w.maxSizeMB)*1024*1024 {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate file: %w", err)
		}
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     timestamp,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := w.writer.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	w.bytesWritten += int64(len(frame))
	return nil
}

// Close closes the current output file.
func (w *PcapWriter) Close() error {
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *PcapWriter) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	if w.maxBackups > 0 {
		for i := w.maxBackups - 1; i >= 0; i-- {
			oldName := w.backupName(i)
			newName := w.backupName(i + 1)

			if _, err := os.Stat(oldName); err == nil {
				if i == w.maxBackups-1 {
					os.Remove(oldName)
				} else {
					os.Rename(oldName, newName)
				}
			}
		}

		if _, err := os.Stat(w.filename); err == nil {
			os.Rename(w.filename, w.backupName(0))
		}
	}

	f, err := os.Create(w.filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	writer := pcapgo.NewWriter(f)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("failed to write PCAP header: %w", err)
	}

	w.file = f
	w.writer = writer
	w.bytesWritten = 0
	return nil
}

func (w *PcapWriter) backupName(index int) string {
	if index == 0 {
		return w.filename + ".1"
	}
	return fmt.Sprintf("%s.%d", w.filename, index+1)
}

// PcapDevice replays frames from a capture file on the receive side and
// records transmitted frames to a rotating pcap sink. It lets the whole
// datapath run offline against recorded traffic.
type PcapDevice struct {
	pool   *BufferPool
	reader *pcapgo.Reader
	input  *os.File
	writer *PcapWriter
	done   bool
}

// NewPcapDevice opens inputFile for replay (may be empty for a sink-only
// device) and outputFile for capture (may be empty for a source-only device).
func NewPcapDevice(pool *BufferPool, inputFile, outputFile string, maxSizeMB, maxBackups int) (*PcapDevice, error) {
	d := &PcapDevice{pool: pool}

	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		r, err := pcapgo.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read pcap header: %w", err)
		}
		d.input = f
		d.reader = r
	}

	if outputFile != "" {
		w, err := NewPcapWriter(outputFile, maxSizeMB, maxBackups)
		if err != nil {
			if d.input != nil {
				d.input.Close()
			}
			return nil, err
		}
		d.writer = w
	}

	return d, nil
}

// RxBurst reads up to len(bufs) frames from the replay file. Once the file is
// exhausted the device stays silent.
func (d *PcapDevice) RxBurst(bufs []*Buffer) int {
	if d.reader == nil || d.done {
		return 0
	}

	n := 0
	for n < len(bufs) {
		b := d.pool.Get()
		if b == nil {
			break
		}
		data, _, err := d.reader.ReadPacketData()
		if err != nil {
			// A truncated capture ends the replay the same way EOF does.
			b.Release()
			d.done = true
			break
		}
		b.Fill(data)
		bufs[n] = b
		n++
	}
	return n
}

// TxBurst writes every frame to the capture sink (when configured) and
// releases the buffers. A device without a sink still consumes the burst.
func (d *PcapDevice) TxBurst(bufs []*Buffer) int {
	now := time.Now()
	for _, b := range bufs {
		if d.writer != nil {
			if err := d.writer.WritePacket(b.Bytes(), now); err != nil {
				// A sink error drops the frame; the burst still counts as
				// consumed.
				b.Release()
				continue
			}
		}
		b.Release()
	}
	return len(bufs)
}

// Close closes both the replay file and the capture sink.
func (d *PcapDevice) Close() error {
	var firstErr error
	if d.input != nil {
		if err := d.input.Close(); err != nil {
			firstErr = err
		}
	}
	if d.writer != nil {
		if err := d.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
