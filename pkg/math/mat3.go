package math

// Mat3 is a 3x3 column-major matrix used for 2D affine transforms in
// homogeneous coordinates, e.g. mapping model XY to texture UV.
type Mat3 [9]float64

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// Translate2D returns a 2D translation.
func Translate2D(x, y float64) Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		x, y, 1,
	}
}

// Scale2D returns a 2D scale.
func Scale2D(x, y float64) Mat3 {
	return Mat3{
		x, 0, 0,
		0, y, 0,
		0, 0, 1,
	}
}

// Mul returns m * other.
func (m Mat3) Mul(other Mat3) Mat3 {
	var r Mat3
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			r[col*3+row] = m[0*3+row]*other[col*3+0] +
				m[1*3+row]*other[col*3+1] +
				m[2*3+row]*other[col*3+2]
		}
	}
	return r
}

// TransformPoint applies the transform to a 2D point.
func (m Mat3) TransformPoint(p Vec2) Vec2 {
	return Vec2{
		m[0]*p.X + m[3]*p.Y + m[6],
		m[1]*p.X + m[4]*p.Y + m[7],
	}
}

// Determinant returns the determinant of m.
func (m Mat3) Determinant() float64 {
	return m[0]*(m[4]*m[8]-m[7]*m[5]) -
		m[3]*(m[1]*m[8]-m[7]*m[2]) +
		m[6]*(m[1]*m[5]-m[4]*m[2])
}

// Inverse returns the inverse of m, or identity if m is singular.
func (m Mat3) Inverse() Mat3 {
	det := m.Determinant()
	if det == 0 {
		return Identity3()
	}
	inv := 1 / det
	return Mat3{
		(m[4]*m[8] - m[5]*m[7]) * inv,
		(m[2]*m[7] - m[1]*m[8]) * inv,
		(m[1]*m[5] - m[2]*m[4]) * inv,
		(m[5]*m[6] - m[3]*m[8]) * inv,
		(m[0]*m[8] - m[2]*m[6]) * inv,
		(m[2]*m[3] - m[0]*m[5]) * inv,
		(m[3]*m[7] - m[4]*m[6]) * inv,
		(m[1]*m[6] - m[0]*m[7]) * inv,
		(m[0]*m[4] - m[1]*m[3]) * inv,
	}
}
