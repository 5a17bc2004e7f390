// Package textutil normalizes catalog names and scores how alike two names are.
//
// Both catalogs spell the same item differently ("Brick 2 x 4", "Brick 2x4",
// "Plate - Modified"), so names are reduced to lowercase ASCII letters, digits,
// hyphens and single spaces before they are compared. Similarity is the
// Sørensen–Dice coefficient over character bigrams, which is symmetric,
// length normalized and grows with the number of shared substrings.
package textutil
