package models

import (
	"time"
)

// Persisted message type tags
const (
	TipoTexto        = "texto"
	TipoImagem       = "imagem"
	TipoVideo        = "video"
	TipoAudio        = "audio"
	TipoDocumento    = "documento"
	TipoSticker      = "sticker"
	TipoContato      = "contato"
	TipoLocalizacao  = "localizacao"
	TipoEnquete      = "enquete"
	TipoLista        = "lista"
	TipoProtocolo    = "protocolo"
	TipoReacao       = "reacao"
	TipoDesconhecido = "desconhecido"
)

// Delivery states reported by the vendor for outbound messages
const (
	EntregaEnviada  = "enviada"
	EntregaEntregue = "entregue"
	EntregaLida     = "lida"
)

// Reacao is one emoji reaction. A message holds at most one reaction; the
// tenant's own reaction has FromMe set.
type Reacao struct {
	Emoji    string    `json:"emoji"`
	SenderID string    `json:"sender_id,omitempty"`
	FromMe   bool      `json:"from_me"`
	At       time.Time `json:"at"`
}

// Mensagem is a single message inside a Chat
type Mensagem struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ClienteID     uint      `json:"cliente_id" gorm:"not null;uniqueIndex:ux_mensagens_cliente_message,priority:1"`
	ChatID        uint      `json:"chat" gorm:"not null;index"`
	MessageID     string    `json:"message_id" gorm:"size:150;not null;uniqueIndex:ux_mensagens_cliente_message,priority:2"`
	Remetente     string    `json:"remetente" gorm:"size:150"`
	SenderID      string    `json:"sender_id" gorm:"size:100"`
	Conteudo      string    `json:"conteudo" gorm:"type:text"`
	Tipo          string    `json:"tipo" gorm:"size:20;not null;default:'texto'"`
	FromMe        bool      `json:"from_me" gorm:"default:false"`
	Lida          bool      `json:"lida" gorm:"default:false;index"`
	Editada       bool      `json:"editada" gorm:"default:false"`
	StatusEntrega string    `json:"status_entrega" gorm:"size:20"`
	Reacoes       []Reacao  `json:"reacoes" gorm:"serializer:json;type:text"`
	DataEnvio     time.Time `json:"data_envio" gorm:"index"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Mensagem
func (Mensagem) TableName() string {
	return "mensagens"
}

// SetReaction replaces whatever reaction the message holds. An empty
// emoji clears it.
func (m *Mensagem) SetReaction(r Reacao) {
	if r.Emoji == "" {
		m.Reacoes = []Reacao{}
		return
	}
	m.Reacoes = []Reacao{r}
}

// ClearReaction drops the reaction and reports whether there was one
func (m *Mensagem) ClearReaction() bool {
	had := len(m.Reacoes) > 0
	m.Reacoes = []Reacao{}
	return had
}

// OwnReaction returns the tenant's reaction, if any
func (m *Mensagem) OwnReaction() (Reacao, bool) {
	for _, r := range m.Reacoes {
		if r.FromMe {
			return r, true
		}
	}
	return Reacao{}, false
}

// MensagemUpdate is the partial update body for a message
type MensagemUpdate struct {
	Lida *bool `json:"lida"`
}

// EditRequest is the body for editing a text message
type EditRequest struct {
	Conteudo string `json:"conteudo"`
}

// ReactRequest is the body for reacting to a message
type ReactRequest struct {
	Emoji string `json:"emoji"`
}

// SendRequest is the body for sending an outbound message. Only the fields
// of the selected Tipo are read.
type SendRequest struct {
	ChatID   uint   `json:"chat"`
	Tipo     string `json:"tipo"`
	Conteudo string `json:"conteudo"`

	MediaURL string `json:"media_url"`
	Caption  string `json:"caption"`
	FileName string `json:"file_name"`

	ContatoNome     string `json:"contato_nome"`
	ContatoTelefone string `json:"contato_telefone"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	LocalNome string  `json:"local_nome"`
	Endereco  string  `json:"endereco"`

	Pergunta    string   `json:"pergunta"`
	Opcoes      []string `json:"opcoes"`
	MaxSelecoes int      `json:"max_selecoes"`

	ListaTitulo string       `json:"lista_titulo"`
	ListaBotao  string       `json:"lista_botao"`
	ListaSecoes []ListaSecao `json:"lista_secoes"`
}

type ListaSecao struct {
	Titulo string      `json:"titulo"`
	Linhas []ListaItem `json:"linhas"`
}

type ListaItem struct {
	ID        string `json:"id"`
	Titulo    string `json:"titulo"`
	Descricao string `json:"descricao"`
}
