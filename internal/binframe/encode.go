package binframe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/casesync/internal/common"
)

// Encode writes a complete frame to w: the header, jsonLen bytes read from
// casesJSON, then one record per item. Attachment bytes are streamed from
// src, so their size is not bounded by memory. The Length of every item is
// taken from src, not from the caller. An item src does not have is written
// as a record without content.
func Encode(ctx context.Context, w io.Writer, casesJSON io.Reader, jsonLen int64, items []Descriptor, src Source) error {
	if err := checkLen(jsonLen); err != nil {
		return err
	}

	if _, err := io.WriteString(w, Signature); err != nil {
		return err
	}
	if err := writeInt(w, Version); err != nil {
		return err
	}
	if err := writeInt(w, int32(jsonLen)); err != nil {
		return err
	}

	buf := make([]byte, copyChunk)
	if _, err := copyN(ctx, w, casesJSON, jsonLen, buf); err != nil {
		return fmt.Errorf("copy cases json: %w", err)
	}

	for _, item := range items {
		if err := encodeItem(ctx, w, item, src, buf); err != nil {
			return err
		}
	}
	return nil
}

func encodeItem(ctx context.Context, w io.Writer, item Descriptor, src Source, buf []byte) error {
	rc, size, err := src.Open(ctx, item.Signature)
	if errors.Is(err, common.ErrorNotFound) {
		// announce the attachment; the receiver keeps whatever it has
		return EncodeNoContent(w, item)
	}
	if err != nil {
		return fmt.Errorf("open attachment %s: %w", item.Signature, err)
	}
	defer rc.Close()

	if err := checkLen(size); err != nil {
		return fmt.Errorf("attachment %s: %w", item.Signature, err)
	}
	item.Length = size

	desc, err := json.Marshal(item)
	if err != nil {
		return err
	}
	if err := writeInt(w, int32(len(desc))); err != nil {
		return err
	}
	if _, err := w.Write(desc); err != nil {
		return err
	}
	if err := writeInt(w, int32(size)); err != nil {
		return err
	}
	if _, err := copyN(ctx, w, rc, size, buf); err != nil {
		return fmt.Errorf("copy attachment %s: %w", item.Signature, err)
	}
	return nil
}

// EncodeNoContent writes a record that announces an attachment without
// carrying its bytes. Encode uses it for attachments missing from the
// source.
func EncodeNoContent(w io.Writer, item Descriptor) error {
	desc, err := json.Marshal(item)
	if err != nil {
		return err
	}
	if err := writeInt(w, int32(len(desc))); err != nil {
		return err
	}
	if _, err := w.Write(desc); err != nil {
		return err
	}
	return writeInt(w, noContent)
}
