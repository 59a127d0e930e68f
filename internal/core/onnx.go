package core

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"qa-backend/pkg/api"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	maxSeqLen       = 384
	maxAnswerTokens = 30
)

func softmax(logits []float32) []float64 {
	maxLogit := float32(math.Inf(-1))
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l - maxLogit))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// OnnxModel runs an exported extractive-QA transformer (start/end logit
// heads) with onnxruntime. It is inference only; finetuning happens through
// the python plugin model.
type OnnxModel struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer

	clsId int64
	sepId int64
}

func LoadOnnxModel(modelDir string) (Model, error) {
	onnxBytes, err := os.ReadFile(filepath.Join(modelDir, "model.onnx"))
	if err != nil {
		return nil, fmt.Errorf("read onnx model: %w", err)
	}

	tk, err := tokenizers.FromFile(filepath.Join(modelDir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("tokenizer load: %w", err)
	}

	// Encoding an empty string with special tokens yields exactly the
	// [CLS]/[SEP] pair for BERT-family tokenizers.
	specials, _ := tk.Encode("", true)
	if len(specials) < 2 {
		tk.Close()
		return nil, fmt.Errorf("tokenizer does not produce [CLS]/[SEP] special tokens")
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		onnxBytes,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"start_logits", "end_logits"},
		nil,
	)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("failed to create in-memory session: %w", err)
	}

	return &OnnxModel{
		session:   session,
		tokenizer: tk,
		clsId:     int64(specials[0]),
		sepId:     int64(specials[len(specials)-1]),
	}, nil
}

func (m *OnnxModel) Predict(question, context string) (api.Answer, error) {
	qIds, _ := m.tokenizer.Encode(question, false)

	enc := m.tokenizer.EncodeWithOptions(context, false, tokenizers.WithReturnAllAttributes())
	ctxIds := enc.IDs
	offsets := enc.Offsets

	maxCtx := maxSeqLen - len(qIds) - 3
	if maxCtx <= 0 {
		return api.Answer{}, fmt.Errorf("question too long: %d tokens", len(qIds))
	}
	if len(ctxIds) > maxCtx {
		ctxIds = ctxIds[:maxCtx]
		offsets = offsets[:maxCtx]
	}

	// [CLS] question [SEP] context [SEP]
	L := len(qIds) + len(ctxIds) + 3
	ids := make([]int64, 0, L)
	typeIds := make([]int64, L)
	mask := make([]int64, L)

	ids = append(ids, m.clsId)
	for _, v := range qIds {
		ids = append(ids, int64(v))
	}
	ids = append(ids, m.sepId)
	for _, v := range ctxIds {
		ids = append(ids, int64(v))
	}
	ids = append(ids, m.sepId)

	ctxOffset := len(qIds) + 2
	for i := range typeIds {
		if i >= ctxOffset {
			typeIds[i] = 1
		}
		mask[i] = 1
	}

	shape := ort.NewShape(1, int64(L))
	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return api.Answer{}, err
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return api.Answer{}, err
	}
	defer maskT.Destroy()
	typeT, err := ort.NewTensor(shape, typeIds)
	if err != nil {
		return api.Answer{}, err
	}
	defer typeT.Destroy()

	startT, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return api.Answer{}, err
	}
	defer startT.Destroy()
	endT, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return api.Answer{}, err
	}
	defer endT.Destroy()

	if err := m.session.Run([]ort.Value{idsT, maskT, typeT}, []ort.Value{startT, endT}); err != nil {
		return api.Answer{}, fmt.Errorf("session run error: %w", err)
	}

	startProbs := softmax(startT.GetData())
	endProbs := softmax(endT.GetData())

	// Best span restricted to context tokens; the [CLS] position scores the
	// no-answer case for models trained with unanswerable questions.
	nullScore := startProbs[0] * endProbs[0]

	bestScore := 0.0
	bestStart, bestEnd := -1, -1
	for i := ctxOffset; i < ctxOffset+len(ctxIds); i++ {
		last := i + maxAnswerTokens
		if last > ctxOffset+len(ctxIds) {
			last = ctxOffset + len(ctxIds)
		}
		for j := i; j < last; j++ {
			if score := startProbs[i] * endProbs[j]; score > bestScore {
				bestScore = score
				bestStart, bestEnd = i, j
			}
		}
	}

	if bestStart < 0 || nullScore > bestScore {
		return api.Answer{Score: nullScore}, nil
	}

	s := int(offsets[bestStart-ctxOffset][0])
	e := int(offsets[bestEnd-ctxOffset][1])

	return api.Answer{
		Text:  context[s:e],
		Score: bestScore,
		Start: s,
		End:   e,
	}, nil
}

func (m *OnnxModel) Finetune(_ []api.QASample, _ api.TrainConfig) error {
	return fmt.Errorf("finetune not supported for ONNX")
}

func (m *OnnxModel) Save(path string) error {
	return fmt.Errorf("save not supported for ONNX")
}

func (m *OnnxModel) Release() {
	m.session.Destroy()
	m.tokenizer.Close()
}
