// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package nodeid

// supernodeNames holds the 256 three-letter supernode names, in order.
const supernodeNames = "" +
	"zodnecbudwessevpersutletfulpensytdurwepserwylsunrypsyxdyrnuphebpeglupdep" +
	"dysputlughecryttyvsydnexlunmeplutseppesdelsulpedtemledtulmetwenbynhexfeb" +
	"pyldulhetmevruttylwydtepbesdexsefwycburderneppurrysrebdennutsubpetrulsyn" +
	"regtydsupsemwynrecmegnetsecmulnymtevwebsummutnyxrextebfushepbenmuswyxsym" +
	"selrucdecwexsyrwetdylmynmesdetbetbeltuxtugmyrpelsyptermebsetdutdegtexsur" +
	"feltudnuxruxrenwytnubmedlytdusnebrumtynseglyxpunresredfunrevrefmectedrus" +
	"bexlebduxrynnumpyxrygryxfeptyrtustyclegnemfermertenlusnussyltecmexpubrym" +
	"tucfyllepdebbermughuttunbylsudpemdevlurdefbusbeprunmelpexdytbyttyplevmyl" +
	"wedducfurfexnulluclennerlexrupnedlecrydlydfenwelnydhusrelrudneshesfetdes" +
	"retdunlernyrsebhulrylludremlysfynwerrycsugnysnyllyndyndemluxfedsedbecmun" +
	"lyrtesmudnytbyrsenwegfyrmurtelreptegpecnelnevfes"

// SupernodeName returns the three-letter name of supernode n, such as
// "zod" for 0. It is the host label under which the supernode is
// published in DNS.
func SupernodeName(n uint8) string {
	i := int(n) * 3
	return supernodeNames[i : i+3]
}

// ParseSupernodeName returns the number of the supernode called name.
func ParseSupernodeName(name string) (n uint8, ok bool) {
	if len(name) != 3 {
		return 0, false
	}
	for i := 0; i < len(supernodeNames); i += 3 {
		if supernodeNames[i:i+3] == name {
			return uint8(i / 3), true
		}
	}
	return 0, false
}
