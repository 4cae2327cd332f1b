// Package metadata embeds track tags into downloaded audio files.
package metadata

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"go.uber.org/zap"
)

// ArtworkSource fetches cover image bytes for embedding.
type ArtworkSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config controls which tags get written.
type Config struct {
	EmbedTags    bool
	EmbedArtwork bool
}

// Manager writes title, artist and optional cover art into finished
// downloads. MP3 gets ID3v2.4 frames, FLAC gets Vorbis comments plus a
// picture block. Other containers are left untouched.
type Manager struct {
	config  Config
	artwork ArtworkSource
	logger  *zap.Logger
}

func NewManager(config Config, artwork ArtworkSource, logger *zap.Logger) *Manager {
	return &Manager{
		config:  config,
		artwork: artwork,
		logger:  logger.With(zap.String("component", "metadata")),
	}
}

// Apply tags the file at path. Formats without a writer here are a
// silent no-op so the download pipeline never fails on tagging.
func (m *Manager) Apply(path, title, artist, thumbnailURL string) error {
	if !m.config.EmbedTags {
		return nil
	}

	var art []byte
	if m.config.EmbedArtwork && m.artwork != nil && thumbnailURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		data, err := m.artwork.Fetch(ctx, thumbnailURL)
		cancel()
		if err != nil {
			m.logger.Warn("artwork fetch for embedding failed",
				zap.String("url", thumbnailURL), zap.Error(err))
		} else {
			art = data
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return m.applyMP3(path, title, artist, art)
	case ".flac":
		return m.applyFLAC(path, title, artist, art)
	default:
		m.logger.Debug("no tag writer for container, skipping",
			zap.String("ext", ext))
		return nil
	}
}

func (m *Manager) applyMP3(path, title, artist string, art []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	if title != "" {
		tag.SetTitle(title)
	}
	if artist != "" {
		tag.SetArtist(artist)
	}

	if len(art) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     art,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 metadata: %w", err)
	}
	return nil
}

func (m *Manager) applyFLAC(path, title, artist string, art []byte) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	var cmtBlock *flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmtBlock = block
			break
		}
	}
	if cmtBlock == nil {
		cmtBlock = &flac.MetaDataBlock{Type: flac.VorbisComment}
		f.Meta = append(f.Meta, cmtBlock)
	}

	cmt, err := flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
	if err != nil {
		cmt = flacvorbis.New()
	}

	if title != "" {
		cmt.Add("TITLE", title)
	}
	if artist != "" {
		cmt.Add("ARTIST", artist)
	}

	res := cmt.Marshal()
	cmtBlock.Data = res.Data

	if len(art) > 0 {
		hasPicture := false
		for _, block := range f.Meta {
			if block.Type == flac.Picture {
				hasPicture = true
				break
			}
		}
		if !hasPicture {
			f.Meta = append(f.Meta, &flac.MetaDataBlock{
				Type: flac.Picture,
				Data: buildFLACPictureBlock(art, "image/jpeg"),
			})
		}
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

// ReadTags returns title and artist from a tagged file. Untaggable
// containers report empty strings with no error.
func (m *Manager) ReadTags(path string) (title, artist string, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
		if err != nil {
			return "", "", fmt.Errorf("failed to open MP3 file: %w", err)
		}
		defer tag.Close()
		return tag.Title(), tag.Artist(), nil
	case ".flac":
		f, err := flac.ParseFile(path)
		if err != nil {
			return "", "", fmt.Errorf("failed to parse FLAC file: %w", err)
		}
		for _, block := range f.Meta {
			if block.Type != flac.VorbisComment {
				continue
			}
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				continue
			}
			if titles, err := cmt.Get("TITLE"); err == nil && len(titles) > 0 {
				title = titles[0]
			}
			if artists, err := cmt.Get("ARTIST"); err == nil && len(artists) > 0 {
				artist = artists[0]
			}
			break
		}
		return title, artist, nil
	default:
		return "", "", nil
	}
}

// buildFLACPictureBlock lays out a METADATA_BLOCK_PICTURE: type 3
// (front cover), MIME, description, then zeroed dimensions the decoder
// fills in.
func buildFLACPictureBlock(imageData []byte, mimeType string) []byte {
	description := "Front Cover"

	size := 4 + 4 + len(mimeType) + 4 + len(description) + 4*4 + 4 + len(imageData)
	data := make([]byte, size)

	pos := 0
	writeUint32BE(data[pos:], 3)
	pos += 4

	writeUint32BE(data[pos:], uint32(len(mimeType)))
	pos += 4
	copy(data[pos:], mimeType)
	pos += len(mimeType)

	writeUint32BE(data[pos:], uint32(len(description)))
	pos += 4
	copy(data[pos:], description)
	pos += len(description)

	// Width, height, depth, color count.
	pos += 4 * 4

	writeUint32BE(data[pos:], uint32(len(imageData)))
	pos += 4
	copy(data[pos:], imageData)

	return data
}

func writeUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
