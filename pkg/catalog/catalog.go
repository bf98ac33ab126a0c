package catalog

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"github.com/beam-cloud/solid/pkg/codec"
	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/format"
	"github.com/beam-cloud/solid/pkg/source"
)

type Opts struct {
	Password string
}

// Catalog is the read-only view of an archive's folders and files. It owns
// the byte source for the lifetime of the archive handle.
type Catalog struct {
	src     source.Source
	header  *format.Header
	key     []byte
	folders []*common.FolderRecord
	files   []*common.FileEntry
	index   *btree.BTree
}

// Open reads the archive header and index once and validates them.
func Open(src source.Source, opts Opts) (*Catalog, error) {
	header, index, err := format.ReadArchive(src, src.Size())
	if err != nil {
		return nil, err
	}

	return Build(src, header, index, opts)
}

// Build assembles a catalog from an already parsed header and index.
func Build(src source.Source, header *format.Header, index *format.Index, opts Opts) (*Catalog, error) {
	key, err := deriveKey(header, opts.Password)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		src:    src,
		header: header,
		key:    key,
		index:  newIndex(),
	}

	if err := c.populate(index); err != nil {
		return nil, err
	}

	log.Debug().
		Int("folders", len(c.folders)).
		Int("files", len(c.files)).
		Bool("encrypted", header.Encrypted()).
		Msg("catalog loaded")

	return c, nil
}

func newIndex() *btree.BTree {
	compare := func(a, b interface{}) bool {
		return a.(*common.FileEntry).Name < b.(*common.FileEntry).Name
	}
	return btree.New(compare)
}

func deriveKey(header *format.Header, password string) ([]byte, error) {
	switch common.Cipher(header.Cipher) {
	case common.CipherNone:
		return nil, nil
	case common.CipherAES256CTR:
	default:
		return nil, fmt.Errorf("%w: cipher %d", common.ErrUnsupportedEncryption, header.Cipher)
	}

	if password == "" {
		return nil, fmt.Errorf("%w: password required", common.ErrUnsupportedEncryption)
	}

	key := codec.DeriveKey(password, header.Salt[:], int(header.KDFIterations))
	if codec.KeyCheck(key) != header.KeyCheck {
		return nil, common.ErrInvalidPassword
	}

	return key, nil
}

func (c *Catalog) populate(index *format.Index) error {
	c.folders = make([]*common.FolderRecord, len(index.Folders))

	var prevEnd int64
	for i, info := range index.Folders {
		if !info.Method.Valid() {
			return fmt.Errorf("%w: folder %d uses method %d", common.ErrUnsupportedMethod, i, info.Method)
		}

		if info.PackOffset < prevEnd || info.PackOffset > c.header.PackLength ||
			info.PackSize < 0 || info.UnpackSize < 0 ||
			info.PackSize > c.header.PackLength-info.PackOffset {
			return fmt.Errorf("%w: folder %d packed range (offset %d, size %d) overlaps or is out of bounds",
				common.ErrCatalogInconsistency, i, info.PackOffset, info.PackSize)
		}
		prevEnd = info.PackOffset + info.PackSize

		c.folders[i] = &common.FolderRecord{
			Index:      i,
			Method:     info.Method,
			PackOffset: info.PackOffset,
			PackSize:   info.PackSize,
			UnpackSize: info.UnpackSize,
			IV:         info.IV,
		}
	}

	c.files = make([]*common.FileEntry, 0, len(index.Files))
	sums := make([]int64, len(c.folders))

	for _, info := range index.Files {
		if info.Size < 0 {
			return fmt.Errorf("%w: %s has negative size", common.ErrCatalogInconsistency, info.Name)
		}

		entry := &common.FileEntry{
			Name:    info.Name,
			Size:    info.Size,
			CRC32:   info.CRC32,
			Mode:    info.Mode,
			ModTime: info.ModTime,
		}

		switch {
		case info.Folder == common.NoFolder:
			if !entry.IsEmpty() {
				return fmt.Errorf("%w: %s has %d bytes but no folder", common.ErrCatalogInconsistency, info.Name, info.Size)
			}
		case info.Folder < 0 || info.Folder >= len(c.folders):
			return fmt.Errorf("%w: %s references folder %d", common.ErrCatalogInconsistency, info.Name, info.Folder)
		default:
			folder := c.folders[info.Folder]
			entry.Folder = folder
			folder.Files = append(folder.Files, entry)
			sums[info.Folder] += info.Size
		}

		c.files = append(c.files, entry)

		if existing := c.index.Get(entry); existing != nil {
			log.Warn().Str("name", entry.Name).Msg("duplicate name in archive, keeping first entry for lookups")
			continue
		}
		c.index.Set(entry)
	}

	for i, folder := range c.folders {
		if sums[i] != folder.UnpackSize {
			return fmt.Errorf("%w: folder %d members total %d bytes, folder decodes to %d",
				common.ErrCatalogInconsistency, i, sums[i], folder.UnpackSize)
		}
	}

	return nil
}

// Lookup finds an entry by name. It never touches the byte source.
func (c *Catalog) Lookup(name string) (*common.FileEntry, error) {
	item := c.index.Get(&common.FileEntry{Name: name})
	if item == nil {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, name)
	}
	return item.(*common.FileEntry), nil
}

// Files returns the entries in archive order.
func (c *Catalog) Files() []*common.FileEntry {
	return c.files
}

func (c *Catalog) Folders() []*common.FolderRecord {
	return c.folders
}

// Walk visits entries in name order whose names start with prefix.
func (c *Catalog) Walk(prefix string, fn func(*common.FileEntry) bool) {
	c.index.Ascend(&common.FileEntry{Name: prefix}, func(item interface{}) bool {
		entry := item.(*common.FileEntry)
		if !strings.HasPrefix(entry.Name, prefix) {
			return false
		}
		return fn(entry)
	})
}

func (c *Catalog) Header() *format.Header {
	return c.header
}

func (c *Catalog) Source() source.Source {
	return c.src
}

// Key returns the derived decryption key, nil for unencrypted archives.
func (c *Catalog) Key() []byte {
	return c.key
}

// FolderStart returns the absolute source offset of a folder's packed bytes.
func (c *Catalog) FolderStart(folder *common.FolderRecord) int64 {
	return c.header.PackPos + folder.PackOffset
}

// TotalSize returns the sum of all decoded file sizes.
func (c *Catalog) TotalSize() int64 {
	var total int64
	for _, f := range c.files {
		total += f.Size
	}
	return total
}

func (c *Catalog) Close() error {
	return source.Close(c.src)
}
