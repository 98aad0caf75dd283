package transcript

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversInOrderThenStopsOnClose(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Append(Exchange{Text: fmt.Sprintf("row %d", i)})
	}
	q.Close()
	q.Append(Exchange{Text: "late"})

	var got []string
	err := q.Drain(context.Background(), func(ex Exchange) { got = append(got, ex.Text) })
	require.NoError(t, err)
	assert.Equal(t, []string{"row 0", "row 1", "row 2", "row 3", "row 4"}, got)
}

func TestQueueConcurrentProducersSingleConsumer(t *testing.T) {
	q := NewQueue()
	const producers, perProducer = 4, 50

	done := make(chan []Exchange)
	go func() {
		var rows []Exchange
		_ = q.Drain(context.Background(), func(ex Exchange) { rows = append(rows, ex) })
		done <- rows
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Append(Exchange{ConversationID: fmt.Sprint(p), Text: fmt.Sprint(i)})
			}
		}(p)
	}
	wg.Wait()
	q.Close()

	rows := <-done
	require.Len(t, rows, producers*perProducer)

	// each producer's rows arrive in the order it appended them
	next := map[string]int{}
	for _, ex := range rows {
		assert.Equal(t, fmt.Sprint(next[ex.ConversationID]), ex.Text)
		next[ex.ConversationID]++
	}
}

func TestQueueDrainStopsOnContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Drain(ctx, func(Exchange) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	var a, b []string
	f := Fanout{
		SinkFunc(func(ex Exchange) { a = append(a, ex.Text) }),
		nil,
		SinkFunc(func(ex Exchange) { b = append(b, ex.Text) }),
	}
	f.Append(Exchange{Text: "hello"})
	assert.Equal(t, []string{"hello"}, a)
	assert.Equal(t, []string{"hello"}, b)
}
