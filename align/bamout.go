package align

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// MergeHeaders builds a header holding the union of the references of
// headers, by name, in order of first appearance. Nil headers are skipped.
func MergeHeaders(headers ...*sam.Header) (*sam.Header, error) {
	var (
		refs []*sam.Reference
		seen = map[string]bool{}
	)
	for _, h := range headers {
		if h == nil {
			continue
		}
		for _, r := range h.Refs() {
			if seen[r.Name()] {
				continue
			}
			seen[r.Name()] = true
			ref, err := sam.NewReference(r.Name(), "", "", r.Len(), nil, nil)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
	}
	return sam.NewHeader(nil, refs)
}

// WriteBAM writes the alignments of reads to path. Each record is tagged
// with its aligner (AlignerTag) and rebound to the references of header,
// which must contain every reference the records use.
func WriteBAM(ctx context.Context, path string, header *sam.Header, reads []*Read) (err error) {
	refs := map[string]*sam.Reference{}
	for _, r := range header.Refs() {
		refs[r.Name()] = r
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w, err := bam.NewWriter(out.Writer(ctx), header, 1)
	if err != nil {
		return errors.E(err, "bam writer", path)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = errors.E(cerr, "close", path)
		}
	}()
	for _, read := range reads {
		for _, aln := range read.Alignments {
			tag, err := sam.NewAux(AlignerTag, aln.Aligner.String())
			if err != nil {
				return err
			}
			for _, m := range aln.Mates {
				rec := m.Sam
				if rec.Ref, err = rebind(refs, rec.Ref); err != nil {
					return errors.E(err, "read", rec.Name)
				}
				if rec.MateRef, err = rebind(refs, rec.MateRef); err != nil {
					return errors.E(err, "read", rec.Name)
				}
				if rec.AuxFields.Get(AlignerTag) == nil {
					rec.AuxFields = append(rec.AuxFields, tag)
				}
				if err := w.Write(rec); err != nil {
					return errors.E(err, "write", path)
				}
			}
		}
	}
	return nil
}

func rebind(refs map[string]*sam.Reference, r *sam.Reference) (*sam.Reference, error) {
	if r == nil {
		return nil, nil
	}
	out, ok := refs[r.Name()]
	if !ok {
		return nil, errors.E(errors.NotExist, "reference", r.Name(), "not in merged header")
	}
	return out, nil
}
