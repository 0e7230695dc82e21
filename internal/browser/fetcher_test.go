package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/recycle-crawler/internal/crawler"
)

type fakeRequest struct {
	url string
}

type delivery struct {
	step, url string
}

func recorder(step string, out *[]delivery) crawler.ResponseHandler {
	return func(url string, _ []byte) {
		*out = append(*out, delivery{step: step, url: url})
	}
}

func TestRoutesDeliverToIssuingStep(t *testing.T) {
	var got []delivery
	r := newRoutes()

	r.use(recorder("brand-a", &got))
	reqA := &fakeRequest{"spu-list?brandId=1&pageNo=2"}
	r.bind(reqA)

	// the next step starts before brand A's pagination response arrives
	r.use(recorder("brand-b", &got))
	reqB := &fakeRequest{"spu-list?brandId=2"}
	r.bind(reqB)

	for _, req := range []*fakeRequest{reqB, reqA} {
		h := r.take(req)
		require.NotNil(t, h)
		h(req.url, nil)
	}

	assert.Equal(t, []delivery{
		{step: "brand-b", url: "spu-list?brandId=2"},
		{step: "brand-a", url: "spu-list?brandId=1&pageNo=2"},
	}, got)
}

func TestRoutesForgetRequests(t *testing.T) {
	var got []delivery
	r := newRoutes()

	before := &fakeRequest{"before"}
	r.bind(before)
	assert.Nil(t, r.take(before), "requests issued before any fetch are not routed")

	r.use(recorder("step", &got))
	req := &fakeRequest{"req"}
	r.bind(req)
	assert.NotNil(t, r.take(req))
	assert.Nil(t, r.take(req), "a binding is used once")

	late := &fakeRequest{"late"}
	r.bind(late)
	r.reset()
	assert.Nil(t, r.take(late), "reset drops in-flight bindings")

	r.bind(&fakeRequest{"after reset"})
	assert.Empty(t, r.bound)
}
