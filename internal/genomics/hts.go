package genomics

import (
	"fmt"
	"io"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
)

// HTS is a Toolkit backed by the biogo htslib-compatible codecs. It
// reads and writes BAM containers. CRAM output additionally needs the
// reference genome the records were compressed against; when no
// reference path is configured the CRAM branch fails up front instead
// of degrading to BAM output under a CRAM label.
type HTS struct {
	cramReferencePath string
}

func NewHTS(cramReferencePath string) *HTS {
	return &HTS{cramReferencePath: cramReferencePath}
}

func (t *HTS) Header(data Source) (*HeaderInfo, error) {
	br, err := bam.NewReader(data, 1)
	if err != nil {
		return nil, fmt.Errorf("reading container header: %w", err)
	}
	defer br.Close()

	h := br.Header()
	text, err := h.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("serializing container header: %w", err)
	}

	info := &HeaderInfo{Text: string(text)}
	for _, ref := range h.Refs() {
		info.References = append(info.References, Reference{
			Name:   ref.Name(),
			Length: ref.Len(),
		})
	}
	return info, nil
}

func (t *HTS) Slice(data, index Source, q Query, format Format, out io.Writer) error {
	if format == FormatCRAM {
		if t.cramReferencePath == "" {
			return fmt.Errorf("cram output requires a configured reference genome")
		}
		return fmt.Errorf("cram output is not implemented by this toolkit")
	}

	if q.Start < 0 || q.End < q.Start {
		return fmt.Errorf("invalid interval %d-%d on %s", q.Start, q.End, q.Reference)
	}

	br, err := bam.NewReader(data, 1)
	if err != nil {
		return fmt.Errorf("reading container: %w", err)
	}
	defer br.Close()

	idx, err := bam.ReadIndex(index)
	if err != nil {
		return fmt.Errorf("reading container index: %w", err)
	}

	ref, err := resolveReference(br.Header(), q.Reference)
	if err != nil {
		return err
	}

	w, err := bam.NewWriter(out, br.Header(), 1)
	if err != nil {
		return fmt.Errorf("writing container header: %w", err)
	}

	chunks, err := idx.Chunks(ref, q.Start, q.End)
	if err != nil {
		// The interval itself was validated above, so the index simply has
		// no coverage for it. The query is still answerable: the result is
		// a container with the header and no records.
		return w.Close()
	}

	it, err := bam.NewIterator(br, chunks)
	if err != nil {
		w.Close()
		return fmt.Errorf("querying interval: %w", err)
	}

	for it.Next() {
		rec := it.Record()
		if rec.Start() >= q.End || rec.End() <= q.Start {
			continue
		}
		if err := w.Write(rec); err != nil {
			it.Close()
			w.Close()
			return fmt.Errorf("writing record: %w", err)
		}
	}
	if err := it.Error(); err != nil && err != io.EOF {
		it.Close()
		w.Close()
		return fmt.Errorf("iterating interval: %w", err)
	}
	if err := it.Close(); err != nil {
		w.Close()
		return fmt.Errorf("closing interval iterator: %w", err)
	}
	return w.Close()
}

func resolveReference(h *sam.Header, name string) (*sam.Reference, error) {
	for _, ref := range h.Refs() {
		if ref.Name() == name {
			return ref, nil
		}
	}
	return nil, fmt.Errorf("reference %q not present in container header", name)
}
