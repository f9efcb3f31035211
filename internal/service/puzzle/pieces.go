package puzzle

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// 45x45 piece outlines; colour attributes are injected per side.
var pieceShapes = map[nchess.PieceType][]string{
	nchess.Pawn: {
		`<circle cx="22.5" cy="13" r="5"/>`,
		`<path d="M 16 34 L 19 19 L 26 19 L 29 34 Z"/>`,
		`<rect x="11" y="34" width="23" height="5"/>`,
	},
	nchess.Rook: {
		`<rect x="12" y="9" width="5" height="5"/>`,
		`<rect x="20" y="9" width="5" height="5"/>`,
		`<rect x="28" y="9" width="5" height="5"/>`,
		`<rect x="12" y="14" width="21" height="4"/>`,
		`<rect x="15" y="18" width="15" height="14"/>`,
		`<rect x="10" y="32" width="25" height="6"/>`,
	},
	nchess.Knight: {
		`<path d="M 13 37 L 32 37 L 31 24 C 31 16 26 9 19 9 L 17 12 L 11 19 L 13 23 L 19 21 L 15 30 Z"/>`,
		`<circle cx="18" cy="15" r="1.2"/>`,
	},
	nchess.Bishop: {
		`<circle cx="22.5" cy="8" r="2.5"/>`,
		`<ellipse cx="22.5" cy="20" rx="6.5" ry="9"/>`,
		`<rect x="14" y="30" width="17" height="3"/>`,
		`<rect x="10" y="33" width="25" height="5"/>`,
	},
	nchess.Queen: {
		`<path d="M 9 14 L 14 30 L 31 30 L 36 14 L 29 23 L 22.5 10 L 16 23 Z"/>`,
		`<circle cx="9" cy="12" r="2.5"/>`,
		`<circle cx="22.5" cy="8" r="2.5"/>`,
		`<circle cx="36" cy="12" r="2.5"/>`,
		`<rect x="12" y="30" width="21" height="7"/>`,
	},
	nchess.King: {
		`<rect x="21" y="4" width="3" height="11"/>`,
		`<rect x="17.5" y="7" width="10" height="3"/>`,
		`<path d="M 11 22 C 11 14 34 14 34 22 L 30 32 L 15 32 Z"/>`,
		`<rect x="12" y="32" width="21" height="6"/>`,
	},
}

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	shapes, ok := pieceShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no shape for piece %v", piece)
	}
	fill, stroke := "#f8f8f8", "#1a1a1a"
	if piece.Color() == nchess.Black {
		fill, stroke = "#2b2b2b", "#0a0a0a"
	}
	attrs := fmt.Sprintf(` fill="%s" stroke="%s" stroke-width="1.5"/>`, fill, stroke)

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`)
	for _, s := range shapes {
		b.WriteString(strings.Replace(s, "/>", attrs, 1))
	}
	b.WriteString(`</svg>`)
	return []byte(b.String()), nil
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}
