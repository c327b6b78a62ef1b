// Package export writes loaded terrains to interchange formats: binary
// glTF for the mesh and GeoJSON for the geographic footprint.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/terrain"
)

// ErrNoMesh is returned when a terrain has no vertices to export.
var ErrNoMesh = errors.New("export: terrain has no mesh")

// GLBOptions controls glTF output.
type GLBOptions struct {
	// Name is used for the node and mesh; empty means the object name.
	Name string
	// EmbedTexture stores the orthophoto as a PNG inside the file.
	EmbedTexture bool
}

// nodeExtras is stored on the terrain node so consumers can geolocate the
// mesh without the source raster.
type nodeExtras struct {
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	PixelToGPS [6]float64 `json:"pixelToGPS"`
	UTMZone    string     `json:"utmZone"`
	Origin     [3]float64 `json:"origin"`
}

// Document builds a glTF document for t. glTF is Y-up, so a local vertex
// (x, y, z) becomes (x, -z, y) and heights end up on +Y.
func Document(t *terrain.Terrain, opts GLBOptions) (*gltf.Document, error) {
	if t == nil || t.Mesh == nil || len(t.Mesh.Vertices) == 0 {
		return nil, ErrNoMesh
	}
	name := opts.Name
	if name == "" {
		name = t.Object.Name
	}

	verts := t.Mesh.Vertices
	positions := make([][3]float32, len(verts))
	normals := make([][3]float32, len(verts))
	uvs := make([][2]float32, len(verts))
	for i, v := range verts {
		positions[i] = toYUp(v.Position)
		normals[i] = toYUp(v.Normal)
		uvs[i] = v.TexCoord
	}

	doc := gltf.NewDocument()
	attrs := map[string]int{
		gltf.POSITION:   modeler.WritePosition(doc, positions),
		gltf.NORMAL:     modeler.WriteNormal(doc, normals),
		gltf.TEXCOORD_0: modeler.WriteTextureCoord(doc, uvs),
	}
	indices := modeler.WriteIndices(doc, t.Mesh.Indices)

	mat := &gltf.Material{
		Name:        name,
		DoubleSided: true,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			MetallicFactor: gltf.Float(0),
		},
	}
	if tex := t.Object.Material; opts.EmbedTexture && tex != nil && tex.Texture != nil {
		texIdx, err := writeTexture(doc, name, tex.Texture)
		if err != nil {
			return nil, err
		}
		mat.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: texIdx}
	}
	doc.Materials = append(doc.Materials, mat)

	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: name,
		Primitives: []*gltf.Primitive{{
			Attributes: attrs,
			Indices:    gltf.Index(indices),
			Material:   gltf.Index(len(doc.Materials) - 1),
			Mode:       gltf.PrimitiveTriangles,
		}},
	})

	node := &gltf.Node{
		Name: name,
		Mesh: gltf.Index(len(doc.Meshes) - 1),
	}
	if ref := geo.ReferenceOf(t.Object); ref != nil {
		p := t.Object.Position
		node.Extras = nodeExtras{
			Width:      ref.Width,
			Height:     ref.Height,
			PixelToGPS: ref.PixelToGPS,
			UTMZone:    ref.Zone.String(),
			Origin:     [3]float64{p.X, p.Y, p.Z},
		}
	}
	doc.Nodes = append(doc.Nodes, node)
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, len(doc.Nodes)-1)

	return doc, nil
}

func writeTexture(doc *gltf.Document, name string, img image.Image) (int, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return 0, fmt.Errorf("encoding texture: %w", err)
	}
	imgIdx, err := modeler.WriteImage(doc, name+".png", "image/png", &buf)
	if err != nil {
		return 0, fmt.Errorf("writing texture: %w", err)
	}
	doc.Samplers = append(doc.Samplers, &gltf.Sampler{
		MagFilter: gltf.MagLinear,
		MinFilter: gltf.MinLinear,
		WrapS:     gltf.WrapClampToEdge,
		WrapT:     gltf.WrapClampToEdge,
	})
	doc.Textures = append(doc.Textures, &gltf.Texture{
		Sampler: gltf.Index(len(doc.Samplers) - 1),
		Source:  gltf.Index(imgIdx),
	})
	return len(doc.Textures) - 1, nil
}

func toYUp(v [3]float32) [3]float32 {
	return [3]float32{v[0], -v[2], v[1]}
}

// WriteGLB encodes t as binary glTF to w.
func WriteGLB(w io.Writer, t *terrain.Terrain, opts GLBOptions) error {
	doc, err := Document(t, opts)
	if err != nil {
		return err
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding glb: %w", err)
	}
	return nil
}

// SaveGLB writes t as binary glTF to path, creating parent directories.
func SaveGLB(path string, t *terrain.Terrain, opts GLBOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteGLB(f, t, opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("exported glb",
		zap.String("path", path),
		zap.Int("vertices", len(t.Mesh.Vertices)),
		zap.Int("triangles", t.Mesh.TriangleCount()))
	return nil
}
