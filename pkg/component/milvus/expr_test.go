package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpr(t *testing.T) {
	assert.Equal(t, `tenant_id == "t1"`, Eq("tenant_id", "t1"))
	assert.Equal(t, `generation != "g\"x"`, Ne("generation", `g"x`))
	assert.Equal(t, `content_type in ["document", "website"]`, In("content_type", []string{"document", "website"}))
	assert.Equal(t, "", In("content_type", nil))
	assert.Equal(t, `(tenant_id == "t1") and (item_id == "i")`, And(Eq("tenant_id", "t1"), "", Eq("item_id", "i")))
	assert.Equal(t, "", And())
}
