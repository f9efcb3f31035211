package puzzle

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"math"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-puzzle/internal/rules"
)

type RenderOptions struct {
	// Flip draws the board from Black's side.
	Flip     bool
	LastMove *rules.Move
	Hint     *rules.Move
	Header   string
	Turn     string
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error)
}

type pngBoardRenderer struct {
	squareSize int
}

func NewPNGBoardRenderer() BoardRenderer {
	return &pngBoardRenderer{squareSize: 64}
}

const (
	sideMargin   = 28
	topMargin    = 64
	bottomMargin = 28
	panelRadius  = 10
)

var (
	lightSquare       = color.RGBA{233, 207, 163, 255}
	darkSquare        = color.RGBA{187, 136, 96, 255}
	backgroundColor   = color.RGBA{22, 24, 36, 255}
	lastMoveFill      = color.NRGBA{R: 255, G: 228, B: 120, A: 130}
	hintArrowColor    = color.NRGBA{R: 96, G: 200, B: 120, A: 190}
	hudPanelColor     = color.NRGBA{R: 32, G: 35, B: 52, A: 250}
	hudTextPrimary    = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	hudTextSecondary  = color.NRGBA{R: 190, G: 198, B: 228, A: 255}
	coordinateColor   = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
	captionFace       = basicfont.Face7x13
)

func (r *pngBoardRenderer) RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	sq := r.squareSize
	boardSize := sq * 8
	origin := image.Point{X: sideMargin, Y: topMargin}
	g := geometry{squareSize: sq, origin: origin, flip: opts.Flip}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, boardSize+sideMargin*2, boardSize+topMargin+bottomMargin))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawHeader(img, opts, image.Rect(origin.X, 10, origin.X+boardSize, topMargin-12))
	drawSquares(img, g)
	if opts.LastMove != nil {
		if from, ok := squareOf(opts.LastMove.From); ok {
			drawSquareOverlay(img, g.rect(from), lastMoveFill)
		}
		if to, ok := squareOf(opts.LastMove.To); ok {
			drawSquareOverlay(img, g.rect(to), lastMoveFill)
		}
	}
	if err := drawPieces(img, board, g); err != nil {
		return nil, err
	}
	if opts.Hint != nil {
		from, okFrom := squareOf(opts.Hint.From)
		to, okTo := squareOf(opts.Hint.To)
		if okFrom && okTo {
			drawArrow(img, g.rect(from), g.rect(to), sq, hintArrowColor)
		}
	}
	drawCoordinates(img, g)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// geometry maps board squares to pixels for one orientation.
type geometry struct {
	squareSize int
	origin     image.Point
	flip       bool
}

func (g geometry) cell(sq nchess.Square) (col, row int) {
	file, rank := int(sq.File()), int(sq.Rank())
	if g.flip {
		return 7 - file, rank
	}
	return file, 7 - rank
}

func (g geometry) rect(sq nchess.Square) image.Rectangle {
	col, row := g.cell(sq)
	x := g.origin.X + col*g.squareSize
	y := g.origin.Y + row*g.squareSize
	return image.Rect(x, y, x+g.squareSize, y+g.squareSize)
}

func squareOf(s string) (nchess.Square, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.A1, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

func allSquares() []nchess.Square {
	out := make([]nchess.Square, 0, 64)
	for r := 0; r < 8; r++ {
		for f := 0; f < 8; f++ {
			out = append(out, nchess.NewSquare(nchess.File(f), nchess.Rank(r)))
		}
	}
	return out
}

func drawSquares(dst *image.RGBA, g geometry) {
	for _, sq := range allSquares() {
		clr := lightSquare
		if (int(sq.File())+int(sq.Rank()))%2 == 0 {
			clr = darkSquare
		}
		imagedraw.Draw(dst, g.rect(sq), image.NewUniform(clr), image.Point{}, imagedraw.Src)
	}
}

func drawPieces(dst *image.RGBA, board *nchess.Board, g geometry) error {
	for _, sq := range allSquares() {
		piece := board.Piece(sq)
		if piece == nchess.NoPiece {
			continue
		}
		img, err := renderPieceImage(piece, g.squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, g.rect(sq), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawHeader(img *image.RGBA, opts RenderOptions, area image.Rectangle) {
	title := strings.TrimSpace(opts.Header)
	if title == "" {
		title = "Puzzle"
	}
	turn := strings.TrimSpace(opts.Turn)

	drawer := &font.Drawer{Dst: img, Face: captionFace}
	drawRoundedPanel(img, area, panelRadius, hudPanelColor)

	inner := area.Inset(12)
	if turn == "" {
		drawCenteredString(drawer, inner, truncateWithEllipsis(captionFace, title, inner.Dx()), hudTextPrimary)
		return
	}
	half := inner.Dy() / 2
	top := image.Rect(inner.Min.X, inner.Min.Y, inner.Max.X, inner.Min.Y+half)
	bottom := image.Rect(inner.Min.X, inner.Min.Y+half, inner.Max.X, inner.Max.Y)
	drawCenteredString(drawer, top, truncateWithEllipsis(captionFace, title, inner.Dx()), hudTextPrimary)
	drawCenteredString(drawer, bottom, truncateWithEllipsis(captionFace, turn, inner.Dx()), hudTextSecondary)
}

func drawCoordinates(img *image.RGBA, g geometry) {
	drawer := &font.Drawer{Dst: img, Face: captionFace, Src: image.NewUniform(coordinateColor)}
	ascent := captionFace.Metrics().Ascent.Ceil()
	boardEnd := g.origin.Y + 8*g.squareSize
	for i := 0; i < 8; i++ {
		fileSq := nchess.NewSquare(nchess.File(i), nchess.Rank1)
		col, _ := g.cell(fileSq)
		fileCenter := g.origin.X + col*g.squareSize + g.squareSize/2
		drawCenteredText(drawer, fileSq.File().String(), fileCenter, boardEnd+ascent+4)

		rankSq := nchess.NewSquare(nchess.FileA, nchess.Rank(i))
		_, row := g.cell(rankSq)
		rankCenter := g.origin.Y + row*g.squareSize + g.squareSize/2
		drawCenteredText(drawer, rankSq.Rank().String(), g.origin.X-sideMargin/2, rankCenter+ascent/2)
	}
}

func drawSquareOverlay(img *image.RGBA, rect image.Rectangle, clr color.Color) {
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawArrow(img *image.RGBA, fromRect, toRect image.Rectangle, squareSize int, clr color.Color) {
	if fromRect == toRect {
		return
	}
	sx := float64(fromRect.Min.X + squareSize/2)
	sy := float64(fromRect.Min.Y + squareSize/2)
	ex := float64(toRect.Min.X + squareSize/2)
	ey := float64(toRect.Min.Y + squareSize/2)

	dx, dy := ex-sx, ey-sy
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	dirX, dirY := dx/length, dy/length
	perpX, perpY := -dirY, dirX

	baseLength := length - float64(squareSize)*0.45
	if baseLength < float64(squareSize)*0.35 {
		baseLength = length * 0.6
	}
	halfWidth := float64(squareSize) * 0.12
	headHalf := float64(squareSize) * 0.28

	bx, by := sx+dirX*baseLength, sy+dirY*baseLength
	fillQuad(img,
		pointF{sx - perpX*halfWidth, sy - perpY*halfWidth},
		pointF{sx + perpX*halfWidth, sy + perpY*halfWidth},
		pointF{bx + perpX*halfWidth, by + perpY*halfWidth},
		pointF{bx - perpX*halfWidth, by - perpY*halfWidth},
		clr,
	)
	fillTriangleF(img,
		pointF{ex, ey},
		pointF{bx - perpX*headHalf, by - perpY*headHalf},
		pointF{bx + perpX*headHalf, by + perpY*headHalf},
		clr,
	)
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || maxWidth <= 0 {
		return trimmed
	}
	drawer := font.Drawer{Face: face}
	if drawer.MeasureString(trimmed).Round() <= maxWidth {
		return trimmed
	}
	runes := []rune(trimmed)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "..."
		if drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return ""
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if rect.Empty() {
		return
	}
	if m := min(rect.Dx(), rect.Dy()) / 2; radius > m {
		radius = m
	}
	fill := image.NewUniform(clr)
	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	for _, c := range []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	} {
		drawQuarterDisc(img, c, radius, rect, clr)
	}
}

// drawQuarterDisc fills the part of a disc that lies in the panel's corner.
func drawQuarterDisc(img *image.RGBA, center image.Point, radius int, bounds image.Rectangle, clr color.Color) {
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			p := image.Pt(center.X+x, center.Y+y)
			if x*x+y*y > r2 || !p.In(bounds) {
				continue
			}
			inCore := (p.X >= bounds.Min.X+radius && p.X < bounds.Max.X-radius) ||
				(p.Y >= bounds.Min.Y+radius && p.Y < bounds.Max.Y-radius)
			if !inCore {
				blendPixel(img, p.X, p.Y, clr)
			}
		}
	}
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	if text == "" {
		return
	}
	metrics := drawer.Face.Metrics()
	width := drawer.MeasureString(text).Round()
	x := max(rect.Min.X+(rect.Dx()-width)/2, rect.Min.X)
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}
	sr, sg, sb, sa := clr.RGBA()
	if sa == 0 {
		return
	}
	// premultiplied source-over
	dst := img.RGBAAt(x, y)
	inv := 65535 - sa
	img.SetRGBA(x, y, color.RGBA{
		R: uint8((sr + uint32(dst.R)*0x101*inv/65535) >> 8),
		G: uint8((sg + uint32(dst.G)*0x101*inv/65535) >> 8),
		B: uint8((sb + uint32(dst.B)*0x101*inv/65535) >> 8),
		A: uint8((sa + uint32(dst.A)*0x101*inv/65535) >> 8),
	})
}

type pointF struct {
	X float64
	Y float64
}

func fillQuad(img *image.RGBA, p0, p1, p2, p3 pointF, clr color.Color) {
	fillTriangleF(img, p0, p1, p2, clr)
	fillTriangleF(img, p0, p2, p3, clr)
}

func fillTriangleF(img *image.RGBA, a, b, c pointF, clr color.Color) {
	minX := int(math.Floor(math.Min(a.X, math.Min(b.X, c.X))))
	maxX := int(math.Ceil(math.Max(a.X, math.Max(b.X, c.X))))
	minY := int(math.Floor(math.Min(a.Y, math.Min(b.Y, c.Y))))
	maxY := int(math.Ceil(math.Max(a.Y, math.Max(b.Y, c.Y))))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if pointInTriangle(float64(x)+0.5, float64(y)+0.5, a, b, c) {
				blendPixel(img, x, y, clr)
			}
		}
	}
}

func pointInTriangle(x, y float64, a, b, c pointF) bool {
	denom := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if denom == 0 {
		return false
	}
	alpha := ((b.Y-c.Y)*(x-c.X) + (c.X-b.X)*(y-c.Y)) / denom
	beta := ((c.Y-a.Y)*(x-c.X) + (a.X-c.X)*(y-c.Y)) / denom
	return alpha >= 0 && beta >= 0 && 1-alpha-beta >= 0
}
