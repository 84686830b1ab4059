package dig

import (
	"bufio"
	"context"
	"fmt"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/carve/coverage"
	"github.com/grailbio/carve/rules"
)

// WriteDatabase writes the header/footer database collected by a dig
// pass: per rule, the suffix, the header count and positions, then the
// footer count and positions, one value per line.  Rules without an
// extension are omitted.  Positions are physical image offsets, so a
// coverage view, when active, translates them.
func WriteDatabase(ctx context.Context, path string, rs *rules.Set, store *Store, view *coverage.View) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create header/footer database", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := bufio.NewWriter(out.Writer(ctx))
	for i, rule := range rs.Rules() {
		if rule.NoExtension {
			continue
		}
		off := store.Rule(i)
		fmt.Fprintf(w, "%s\n", rule.Suffix)
		fmt.Fprintf(w, "%d\n", len(off.Headers))
		for _, m := range off.Headers {
			fmt.Fprintf(w, "%d\n", physical(view, m.Pos))
		}
		fmt.Fprintf(w, "%d\n", len(off.Footers))
		for _, m := range off.Footers {
			fmt.Fprintf(w, "%d\n", physical(view, m.Pos))
		}
	}
	return w.Flush()
}

func physical(view *coverage.View, pos int64) int64 {
	if view == nil {
		return pos
	}
	return view.Physical(pos)
}

// ReadDatabase loads a database written by WriteDatabase back into a
// store for rs, for use as pairing ground truth.  Match lengths are not
// recorded in the database and are taken from the rule patterns, so
// regexp needles read back with zero length.
func ReadDatabase(ctx context.Context, path string, rs *rules.Set) (*Store, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open header/footer database", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	scanner := bufio.NewScanner(in.Reader(ctx))
	next := func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", errors.New("header/footer database " + path + " is truncated")
		}
		return scanner.Text(), nil
	}
	readInt := func() (int64, error) {
		line, err := next()
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return 0, errors.New("bad number " + strconv.Quote(line) + " in " + path)
		}
		return v, nil
	}

	store := NewStore(rs.Len())
	for i, rule := range rs.Rules() {
		if rule.NoExtension {
			continue
		}
		suffix, err := next()
		if err != nil {
			return nil, err
		}
		if suffix != rule.Suffix {
			return nil, errors.New("database " + path + " does not match the rule set: got " +
				suffix + ", want " + rule.Suffix)
		}
		off := store.Rule(i)
		nh, err := readInt()
		if err != nil {
			return nil, err
		}
		for k := int64(0); k < nh; k++ {
			pos, err := readInt()
			if err != nil {
				return nil, err
			}
			off.Headers = append(off.Headers, Match{Pos: pos, Len: rule.Header.Len()})
		}
		nf, err := readInt()
		if err != nil {
			return nil, err
		}
		for k := int64(0); k < nf; k++ {
			pos, err := readInt()
			if err != nil {
				return nil, err
			}
			footerLen := 0
			if rule.Footer != nil {
				footerLen = rule.Footer.Len()
			}
			off.Footers = append(off.Footers, Match{Pos: pos, Len: footerLen})
		}
	}
	return store, nil
}
